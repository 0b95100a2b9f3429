package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsWrongFieldCount(t *testing.T) {
	_, err := Parse("* * * * *")
	assert.Error(t, err)
}

func TestNextEveryFiveMinutes(t *testing.T) {
	expr, err := Parse("0 */5 * * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, ok := expr.Next(from, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), next)
}

// Covers the server-offline-across-a-tick case: offline 10:04-10:07,
// last_run=10:00:00, next_run=10:05:00. At restart (10:07) exactly one
// fire is due, and the following computed next_run_at is 10:10:00, not
// 10:05:00 again.
func TestScenarioExactlyOnceAcrossRestart(t *testing.T) {
	expr, err := Parse("0 */5 * * * * *")
	require.NoError(t, err)

	restartAt := time.Date(2026, 1, 1, 10, 7, 0, 0, time.UTC)
	dueNextRun := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	assert.True(t, !dueNextRun.After(restartAt), "next_run_at must be due at restart")

	nextAfterFire, ok := expr.Next(restartAt, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 10, 0, 0, time.UTC), nextAfterFire)
}

func TestDayOfMonthOrDayOfWeek(t *testing.T) {
	// 2026-01-01 is a Thursday (weekday 4). Expression fires on day 15 of
	// the month OR any Monday (weekday 1); neither field is '*' so they
	// combine with OR.
	expr, err := Parse("0 0 0 15 * 1 *")
	require.NoError(t, err)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := expr.Next(from, time.UTC)
	require.True(t, ok)

	// 2026-01-05 is the first Monday after Jan 1, which comes before the 15th.
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), next)
}

func TestStepAndRangeSyntax(t *testing.T) {
	expr, err := Parse("0 0-30/10 8-9 * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	next, ok := expr.Next(from, time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), next)
}
