// Package dispatch is the agent-facing API: claim-next-job,
// register-stages, append-log, update-stage, complete-job. Every mutating
// route follows the same request-decode, store-call, respond shape and is
// guarded by the claim token the agent received from claim-next-job.
package dispatch

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/store"
)

// Handler serves the dispatch API on top of a store.Client.
type Handler struct {
	store         store.Client
	jobEventTotal *prometheus.CounterVec
}

// NewHandler returns a dispatch.Handler backed by db.
func NewHandler(db store.Client, jobEventTotal *prometheus.CounterVec) *Handler {
	return &Handler{store: db, jobEventTotal: jobEventTotal}
}

func (h *Handler) recordEvent(event, outcome string) {
	if h.jobEventTotal == nil {
		return
	}
	h.jobEventTotal.With(prometheus.Labels{"event": event, "outcome": outcome}).Inc()
}

// Register attaches every dispatch route to router, wrapping the
// job-scoped mutating routes with claimTokenMiddleware
func (h *Handler) Register(router gin.IRouter) {
	router.POST("/claim", h.claim)

	job := router.Group("/job/:id", claimTokenMiddleware())
	job.POST("/stages", h.createStages)
	job.POST("/stage/:name/start", h.startStage)
	job.POST("/stage/:name/log", h.appendLog)
	job.POST("/stage/:name/finish", h.finishStage)
	job.POST("/complete", h.completeJob)
}

type claimRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

type claimResponse struct {
	Job        *contracts.Job `json:"job"`
	ClaimToken string         `json:"claim_token"`
	CloneURL   string         `json:"clone_url"`
}

func (h *Handler) claim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: err.Error()})
		return
	}

	job, claimToken, err := h.store.ClaimNextJob(c.Request.Context(), req.AgentID)
	if err != nil {
		h.recordEvent("claim", "error")
		respondError(c, err)
		return
	}
	if job == nil {
		h.recordEvent("claim", "empty")
		c.Status(http.StatusNoContent)
		return
	}

	repo, err := h.store.GetRepository(c.Request.Context(), job.RepositoryID)
	if err != nil {
		h.recordEvent("claim", "error")
		respondError(c, err)
		return
	}

	h.recordEvent("claim", "claimed")
	log.Info().Int64("jobId", job.ID).Str("agentId", req.AgentID).Msg("Job claimed")
	c.JSON(http.StatusOK, claimResponse{Job: job, ClaimToken: claimToken, CloneURL: repo.CloneURL})
}

type stageDeclaration struct {
	Name    string `json:"name" binding:"required"`
	Order   int    `json:"order"`
	Command string `json:"command" binding:"required"`
	Image   string `json:"image" binding:"required"`
}

type createStagesRequest struct {
	Stages []stageDeclaration `json:"stages" binding:"required"`
}

func (h *Handler) createStages(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	var req createStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: err.Error()})
		return
	}

	specs := make([]store.StageSpec, len(req.Stages))
	for i, s := range req.Stages {
		specs[i] = store.StageSpec{Name: s.Name, Order: s.Order, Command: s.Command, Image: s.Image}
	}

	if err := h.store.CreateStages(c.Request.Context(), jobID, claimTokenFromContext(c), specs); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (h *Handler) startStage(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	stageName := c.Param("name")

	if err := h.store.StartStage(c.Request.Context(), jobID, claimTokenFromContext(c), stageName); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type logLine struct {
	Seq  int64     `json:"seq"`
	Ts   time.Time `json:"ts"`
	Line string    `json:"line" binding:"required"`
}

type appendLogRequest struct {
	Lines []logLine `json:"lines" binding:"required"`
}

func (h *Handler) appendLog(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	stageName := c.Param("name")

	var req appendLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: err.Error()})
		return
	}

	stages, err := h.store.GetStagesForJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	var stageID int64
	found := false
	for _, s := range stages {
		if s.Name == stageName {
			stageID = s.ID
			found = true
			break
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, contracts.HTTPBody{ErrorKind: string(contracts.KindNotFound), Detail: "unknown stage " + stageName})
		return
	}

	lines := make([]contracts.StageLog, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = contracts.StageLog{StageID: stageID, Seq: l.Seq, Line: l.Line, Ts: l.Ts}
	}

	if err := h.store.AppendStageLog(c.Request.Context(), stageID, claimTokenFromContext(c), lines); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type finishStageRequest struct {
	Status   contracts.StageStatus `json:"status" binding:"required"`
	ExitCode *int                  `json:"exit_code,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func (h *Handler) finishStage(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	stageName := c.Param("name")

	var req finishStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: err.Error()})
		return
	}

	if err := h.store.FinishStage(c.Request.Context(), jobID, claimTokenFromContext(c), stageName, req.Status, req.ExitCode, req.Error); err != nil {
		h.recordEvent("stage_finish", "error")
		respondError(c, err)
		return
	}
	h.recordEvent("stage_finish", string(req.Status))
	c.Status(http.StatusOK)
}

type completeJobRequest struct {
	Status contracts.JobStatus `json:"status" binding:"required"`
	Error  string              `json:"error,omitempty"`
}

func (h *Handler) completeJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	var req completeJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: err.Error()})
		return
	}

	if err := h.store.CompleteJob(c.Request.Context(), jobID, claimTokenFromContext(c), req.Status, req.Error); err != nil {
		h.recordEvent("job_complete", "error")
		respondError(c, err)
		return
	}

	h.recordEvent("job_complete", string(req.Status))
	log.Info().Int64("jobId", jobID).Str("status", string(req.Status)).Msg("Job completed")
	c.Status(http.StatusOK)
}

func parseJobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, contracts.HTTPBody{ErrorKind: string(contracts.KindBadRequest), Detail: "invalid job id"})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	status, body := contracts.ToHTTPBody(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Dispatch request failed")
	}
	c.JSON(status, body)
}
