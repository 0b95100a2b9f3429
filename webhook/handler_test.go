package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const secret = "s3cr3t"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestRouter(db *mockStore) *gin.Engine {
	router := gin.New()
	NewHandler(db, secret, nil).Register(router)
	return router
}

func doRequest(router *gin.Engine, body []byte, event, deliveryID, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(string(body)))
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleRejectsInvalidSignature(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{"ref":"refs/heads/main"}`)
	rec := doRequest(router, body, "push", "d1", "sha256=deadbeef")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, db.enqueuedJobs)
}

func TestHandleEnqueuesJobForAllowedBranch(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/widgets", "name": "widgets", "clone_url": "https://github.com/acme/widgets.git", "owner": {"login": "acme"}},
		"head_commit": {"message": "fix bug", "url": "https://github.com/acme/widgets/commit/abc123", "author": {"name": "Ada"}}
	}`)

	rec := doRequest(router, body, "push", "d1", sign(body))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, db.enqueuedJobs, 1)
	assert.Equal(t, "abc123", db.enqueuedJobs[0].GitSHA)
	assert.Equal(t, "fix bug", db.enqueuedJobs[0].Commit.Message)
}

func TestHandleFiltersDisallowedBranch(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{
		"ref": "refs/heads/feature-x",
		"after": "abc123",
		"repository": {"full_name": "acme/widgets", "name": "widgets", "clone_url": "https://github.com/acme/widgets.git", "owner": {"login": "acme"}},
		"head_commit": {"message": "wip"}
	}`)

	rec := doRequest(router, body, "push", "d1", sign(body))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, db.enqueuedJobs)
}

func TestHandleDedupesReplayedDelivery(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/widgets", "name": "widgets", "clone_url": "https://github.com/acme/widgets.git", "owner": {"login": "acme"}},
		"head_commit": {"message": "fix bug"}
	}`)
	sig := sign(body)

	first := doRequest(router, body, "push", "same-delivery", sig)
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Len(t, db.enqueuedJobs, 1)

	second := doRequest(router, body, "push", "same-delivery", sig)
	assert.Equal(t, http.StatusAccepted, second.Code)
	assert.Len(t, db.enqueuedJobs, 1, "a replayed delivery_id must not enqueue a second job")
}

func TestHandlePullRequestRespectsTriggerRules(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{
		"action": "opened",
		"number": 42,
		"repository": {"full_name": "acme/widgets", "name": "widgets", "clone_url": "https://github.com/acme/widgets.git", "owner": {"login": "acme"}},
		"pull_request": {"head": {"ref": "feature-x", "sha": "def456"}, "base": {"ref": "main", "sha": "abc123"}}
	}`)

	rec := doRequest(router, body, "pull_request", "d1", sign(body))

	assert.Equal(t, http.StatusNoContent, rec.Code, "pull requests are disabled in the default trigger rules")
	assert.Empty(t, db.enqueuedJobs)
}

func TestHandleUnsupportedEventIsFiltered(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{}`)
	rec := doRequest(router, body, "ping", "d1", sign(body))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleMalformedPushPayloadLeavesDeliveryUnprocessed(t *testing.T) {
	db := newMockStore()
	router := newTestRouter(db)

	body := []byte(`{not valid json`)
	rec := doRequest(router, body, "push", "d1", sign(body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, db.deliveries, "github/d1")
	delivery := db.deliveries["github/d1"]
	assert.False(t, delivery.Processed, "a parse error must leave the delivery available for replay")
	assert.NotEmpty(t, delivery.ErrorMessage)
}
