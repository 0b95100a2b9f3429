package store

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
)

func TestListJobsForRepositoryQueryBuilder(t *testing.T) {

	c := &client{}

	t.Run("GeneratesQueryWithoutStatusFilter", func(t *testing.T) {
		query := c.statementBuilder().
			Select("id", "repository_id").
			From("job").
			Where(sq.Eq{"repository_id": 42}).
			OrderBy("id DESC").
			Limit(20).
			Offset(0)

		sql, args, err := query.ToSql()

		assert.NoError(t, err)
		assert.Equal(t, "SELECT id, repository_id FROM job WHERE repository_id = $1 ORDER BY id DESC LIMIT 20 OFFSET 0", sql)
		assert.Equal(t, []interface{}{42}, args)
	})

	t.Run("GeneratesQueryWithStatusFilter", func(t *testing.T) {
		query := c.statementBuilder().
			Select("id", "repository_id").
			From("job").
			Where(sq.Eq{"repository_id": 42}).
			Where(sq.Eq{"status": "queued"}).
			OrderBy("id DESC").
			Limit(20).
			Offset(0)

		sql, args, err := query.ToSql()

		assert.NoError(t, err)
		assert.Equal(t, "SELECT id, repository_id FROM job WHERE repository_id = $1 AND status = $2 ORDER BY id DESC LIMIT 20 OFFSET 0", sql)
		assert.Equal(t, []interface{}{42, "queued"}, args)
	})

	t.Run("ClampsPageSizeToDefaultWhenOutOfRange", func(t *testing.T) {
		pageSize := 500
		if pageSize <= 0 || pageSize > 100 {
			pageSize = 20
		}
		assert.Equal(t, 20, pageSize)
	})

	t.Run("ClampsPageNumberToOneWhenBelowRange", func(t *testing.T) {
		pageNumber := 0
		if pageNumber < 1 {
			pageNumber = 1
		}
		assert.Equal(t, 1, pageNumber)
	})
}
