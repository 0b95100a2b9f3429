package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(job *contracts.Job, claimToken string) (*gin.Engine, *mockStore) {
	db := newMockStore(job, claimToken)
	router := gin.New()
	NewHandler(db, nil).Register(router)
	return router, db
}

func do(router *gin.Engine, method, path, body, claimToken string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if claimToken != "" {
		req.Header.Set("X-Claim-Token", claimToken)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestClaimReturnsJobWhenQueueNonEmpty(t *testing.T) {
	job := &contracts.Job{ID: 7, Status: contracts.JobQueued}
	router, _ := newTestRouter(job, "tok-1")

	rec := do(router, http.MethodPost, "/claim", `{"agent_id":"agent-a"}`, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claim_token":"tok-1"`)
}

func TestClaimReturnsNoContentWhenQueueEmpty(t *testing.T) {
	router, _ := newTestRouter(nil, "")

	rec := do(router, http.MethodPost, "/claim", `{"agent_id":"agent-a"}`, "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMutatingRouteRejectsMissingClaimToken(t *testing.T) {
	router, _ := newTestRouter(&contracts.Job{ID: 7}, "tok-1")

	rec := do(router, http.MethodPost, "/job/7/stages", `{"stages":[]}`, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMutatingRouteRejectsMismatchedClaimToken(t *testing.T) {
	router, _ := newTestRouter(&contracts.Job{ID: 7}, "tok-1")

	rec := do(router, http.MethodPost, "/job/7/complete", `{"status":"success"}`, "wrong-token")

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStageLifecycleHappyPath(t *testing.T) {
	router, db := newTestRouter(&contracts.Job{ID: 7}, "tok-1")

	create := do(router, http.MethodPost, "/job/7/stages", `{"stages":[{"name":"test","order":0,"command":"echo ok","image":"alpine"}]}`, "tok-1")
	require.Equal(t, http.StatusCreated, create.Code)
	require.Len(t, db.stages, 1)

	start := do(router, http.MethodPost, "/job/7/stage/test/start", `{}`, "tok-1")
	require.Equal(t, http.StatusOK, start.Code)
	assert.Equal(t, contracts.StageRunning, db.stages[0].Status)

	appendLog := do(router, http.MethodPost, "/job/7/stage/test/log", `{"lines":[{"line":"ok"}]}`, "tok-1")
	require.Equal(t, http.StatusOK, appendLog.Code)
	require.Len(t, db.logs, 1)

	finish := do(router, http.MethodPost, "/job/7/stage/test/finish", `{"status":"success"}`, "tok-1")
	require.Equal(t, http.StatusOK, finish.Code)
	assert.Equal(t, contracts.StageSuccess, db.stages[0].Status)

	complete := do(router, http.MethodPost, "/job/7/complete", `{"status":"success"}`, "tok-1")
	require.Equal(t, http.StatusOK, complete.Code)
	assert.Equal(t, contracts.JobSuccess, db.completeStatus)
}

func TestAppendLogUnknownStageReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(&contracts.Job{ID: 7}, "tok-1")

	rec := do(router, http.MethodPost, "/job/7/stage/missing/log", `{"lines":[{"line":"x"}]}`, "tok-1")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
