// Package webhook is the ingress component: it authenticates
// incoming deliveries, parses the payload, filters through per-repository
// trigger rules, and inserts job rows.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/store"
)

// Handler is the /webhook/github HTTP handler.
type Handler struct {
	store           store.Client
	secret          string
	deliveriesTotal *prometheus.CounterVec
}

// NewHandler returns a webhook.Handler backed by db, verifying deliveries
// against secret.
func NewHandler(db store.Client, secret string, deliveriesTotal *prometheus.CounterVec) *Handler {
	return &Handler{store: db, secret: secret, deliveriesTotal: deliveriesTotal}
}

// Register attaches the ingress route to router.
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/webhook/github", h.Handle)
}

// Handle verifies the request signature, decodes the GitHub payload,
// records the delivery, and enqueues a job when the event warrants one.
func (h *Handler) Handle(c *gin.Context) {
	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")
	if deliveryID == "" {
		deliveryID = uuid.New().String()
	}
	defer func() { h.countDelivery(eventType, c.Writer.Status()) }()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error().Err(err).Msg("Reading webhook body failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	signatureValid := h.hasValidSignature(body, c.GetHeader("X-Hub-Signature-256"))

	delivery := &contracts.WebhookDelivery{
		Provider:       "github",
		EventType:      eventType,
		DeliveryID:     deliveryID,
		SignatureValid: signatureValid,
		Payload:        body,
		Processed:      false,
	}

	inserted, err := h.store.InsertDelivery(c.Request.Context(), delivery)
	if err != nil {
		log.Error().Err(err).Msg("Persisting webhook delivery failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	if !signatureValid {
		log.Warn().Str("deliveryId", deliveryID).Msg("Webhook signature verification failed")
		c.Status(http.StatusUnauthorized)
		return
	}

	if !inserted {
		//: replaying the same delivery_id twice results in at most
		// one enqueued job.
		log.Debug().Str("deliveryId", deliveryID).Msg("Duplicate webhook delivery, ignoring")
		c.Status(http.StatusAccepted)
		return
	}

	switch eventType {
	case "push":
		h.handlePush(c, delivery, body)
	case "pull_request":
		h.handlePullRequest(c, delivery, body)
	default:
		h.filter(c, delivery, "unsupported")
	}
}

func (h *Handler) countDelivery(eventType string, status int) {
	if h.deliveriesTotal == nil {
		return
	}
	h.deliveriesTotal.With(prometheus.Labels{"event": eventType, "outcome": http.StatusText(status)}).Inc()
}

// hasValidSignature verifies the HMAC-SHA256 digest of body against the
// shared secret, comparing in constant time.
func (h *Handler) hasValidSignature(body []byte, signatureHeader string) bool {
	if signatureHeader == "" || h.secret == "" {
		return false
	}

	signature := strings.TrimPrefix(signatureHeader, "sha256=")
	actualMAC, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expectedMAC := mac.Sum(nil)

	return hmac.Equal(actualMAC, expectedMAC)
}

func (h *Handler) handlePush(c *gin.Context, delivery *contracts.WebhookDelivery, body []byte) {
	var event PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.reject(c, delivery, "parse error: "+err.Error())
		return
	}

	if !strings.HasPrefix(event.Ref, "refs/heads/") {
		h.filter(c, delivery, "not a branch push")
		return
	}
	branch := strings.TrimPrefix(event.Ref, "refs/heads/")

	repo, err := h.store.GetOrCreateRepository(c.Request.Context(), "github.com", event.Repository.Owner.Login, event.Repository.Name, event.Repository.CloneURL)
	if err != nil {
		h.reject(c, delivery, "repository lookup failed: "+err.Error())
		return
	}

	if !repo.Triggers.AllowsBranch(branch) {
		h.filter(c, delivery, "filtered")
		return
	}

	commit := contracts.CommitMeta{
		Message: event.HeadCommit.Message,
		Author:  event.HeadCommit.Author.Name,
		URL:     event.HeadCommit.URL,
	}

	jobID, err := h.store.EnqueueJob(c.Request.Context(), repo.ID, event.After, event.Ref, commit, nil, nil)
	if err != nil {
		h.reject(c, delivery, "enqueue failed: "+err.Error())
		return
	}

	h.accept(c, delivery, jobID)
}

func (h *Handler) handlePullRequest(c *gin.Context, delivery *contracts.WebhookDelivery, body []byte) {
	var event PullRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.reject(c, delivery, "parse error: "+err.Error())
		return
	}

	repo, err := h.store.GetOrCreateRepository(c.Request.Context(), "github.com", event.Repository.Owner.Login, event.Repository.Name, event.Repository.CloneURL)
	if err != nil {
		h.reject(c, delivery, "repository lookup failed: "+err.Error())
		return
	}

	if !repo.Triggers.AllowsPullRequest(event.PullRequest.Base.Ref) {
		h.filter(c, delivery, "filtered")
		return
	}

	prNumber := event.Number
	jobID, err := h.store.EnqueueJob(c.Request.Context(), repo.ID, event.PullRequest.Head.SHA, event.PullRequest.Head.Ref, contracts.CommitMeta{}, nil, &prNumber)
	if err != nil {
		h.reject(c, delivery, "enqueue failed: "+err.Error())
		return
	}

	h.accept(c, delivery, jobID)
}

func (h *Handler) accept(c *gin.Context, delivery *contracts.WebhookDelivery, jobID int64) {
	if err := h.store.MarkDeliveryProcessed(c.Request.Context(), delivery.ID, &jobID, ""); err != nil {
		log.Error().Err(err).Msg("Marking delivery processed failed")
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

func (h *Handler) filter(c *gin.Context, delivery *contracts.WebhookDelivery, reason string) {
	if err := h.store.MarkDeliveryProcessed(c.Request.Context(), delivery.ID, nil, reason); err != nil {
		log.Error().Err(err).Msg("Marking delivery processed failed")
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reject(c *gin.Context, delivery *contracts.WebhookDelivery, reason string) {
	log.Error().Str("reason", reason).Msg("Webhook delivery failed processing")
	if err := h.store.MarkDeliveryFailed(c.Request.Context(), delivery.ID, reason); err != nil {
		log.Error().Err(err).Msg("Marking delivery failed")
	}
	c.Status(http.StatusBadRequest)
}
