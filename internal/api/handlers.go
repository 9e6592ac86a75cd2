package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seerstack/seer-observer/internal/models"
	"github.com/seerstack/seer-observer/internal/registry"
	"github.com/seerstack/seer-observer/internal/repo"
	"github.com/seerstack/seer-observer/internal/services"
	"github.com/seerstack/seer-observer/internal/utils"
	"github.com/seerstack/seer-observer/internal/workflow"
)

// Handler exposes the observer service over HTTP.
type Handler struct {
	service *services.ObserverService
	logger  *slog.Logger
}

// NewRouter builds the gin engine with all observer routes registered.
func NewRouter(service *services.ObserverService, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{service: service, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.health)

	observer := router.Group("/api/observer")
	{
		observer.POST("/start", h.startMonitoring)
		observer.POST("/stop", h.stopMonitoring)
		observer.GET("/status", h.status)
		observer.GET("/workflows/pending", h.pendingWorkflows)
		observer.POST("/workflows/approve", h.decideWorkflow)
		observer.GET("/suspect-commits", h.suspectCommits)
	}

	incidents := router.Group("/api/incidents")
	{
		incidents.POST("/register", h.registerIncident)
		incidents.GET("", h.listIncidents)
		incidents.GET("/:id", h.getIncident)
	}

	anomalies := router.Group("/api/anomalies")
	{
		anomalies.POST("/register", h.registerAnomaly)
		anomalies.GET("", h.listAnomalies)
	}

	metrics := router.Group("/api/metrics")
	{
		metrics.POST("/ingest", h.ingestMetrics)
	}

	activity := router.Group("/api/activity")
	{
		activity.GET("/recent", h.recentActivity)
		activity.GET("/stats", h.activityStats)
	}

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) startMonitoring(c *gin.Context) {
	h.service.StartMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": "started"})
}

func (h *Handler) stopMonitoring(c *gin.Context) {
	h.service.StopMonitoring()
	c.JSON(http.StatusOK, gin.H{"monitoring": "stopped"})
}

type statusResponse struct {
	Running          bool         `json:"running"`
	IntervalSeconds  float64      `json:"interval_seconds"`
	LastCheck        *time.Time   `json:"last_check,omitempty"`
	CyclesRun        int          `json:"cycles_run"`
	SigmaThreshold   float64      `json:"sigma_threshold"`
	RecentAnomalies  []anomalyDTO `json:"recent_anomalies"`
	PendingWorkflows int          `json:"pending_workflows"`
}

func (h *Handler) status(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := statusResponse{
		Running:          status.Running,
		IntervalSeconds:  status.IntervalSeconds,
		CyclesRun:        status.CyclesRun,
		SigmaThreshold:   status.SigmaThreshold,
		RecentAnomalies:  make([]anomalyDTO, 0, len(status.RecentAnomalies)),
		PendingWorkflows: status.PendingWorkflows,
	}
	if !status.LastCheck.IsZero() {
		t := status.LastCheck
		resp.LastCheck = &t
	}
	for _, a := range status.RecentAnomalies {
		resp.RecentAnomalies = append(resp.RecentAnomalies, toAnomalyDTO(a))
	}
	c.JSON(http.StatusOK, resp)
}

type registerIncidentRequest struct {
	Title         string  `json:"title" binding:"required"`
	Service       string  `json:"service" binding:"required"`
	Environment   string  `json:"environment"`
	Severity      string  `json:"severity" binding:"required"`
	Description   string  `json:"description"`
	Metric        string  `json:"metric"`
	CurrentValue  float64 `json:"current_value"`
	ExpectedValue float64 `json:"expected_value"`
	User          string  `json:"user"`
}

func (h *Handler) registerIncident(c *gin.Context) {
	var req registerIncidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.RegisterIncident(c.Request.Context(), services.RegisterIncidentInput{
		Title:         req.Title,
		Service:       req.Service,
		Environment:   req.Environment,
		Severity:      req.Severity,
		Description:   req.Description,
		Metric:        req.Metric,
		CurrentValue:  req.CurrentValue,
		ExpectedValue: req.ExpectedValue,
		User:          req.User,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toIncidentDTO(record))
}

func (h *Handler) getIncident(c *gin.Context) {
	record, err := h.service.GetIncident(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIncidentDTO(record))
}

func (h *Handler) listIncidents(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	records, err := h.service.ListIncidents(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]incidentDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toIncidentDTO(rec))
	}
	c.JSON(http.StatusOK, gin.H{"incidents": out, "count": len(out)})
}

type registerAnomalyRequest struct {
	Service       string  `json:"service" binding:"required"`
	Metric        string  `json:"metric" binding:"required"`
	Environment   string  `json:"environment"`
	CurrentValue  float64 `json:"current_value"`
	ExpectedValue float64 `json:"expected_value"`
	User          string  `json:"user"`
}

func (h *Handler) registerAnomaly(c *gin.Context) {
	var req registerAnomalyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.RegisterAnomaly(c.Request.Context(), services.RegisterAnomalyInput{
		Service:       req.Service,
		Metric:        req.Metric,
		Environment:   req.Environment,
		CurrentValue:  req.CurrentValue,
		ExpectedValue: req.ExpectedValue,
		User:          req.User,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAnomalyRecordDTO(record))
}

func (h *Handler) listAnomalies(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))
	records, err := h.service.ListAnomalies(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]anomalyRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toAnomalyRecordDTO(rec))
	}
	c.JSON(http.StatusOK, gin.H{"anomalies": out, "count": len(out)})
}

type ingestPointRequest struct {
	Timestamp   time.Time         `json:"timestamp" binding:"required"`
	Metric      string            `json:"metric_name" binding:"required"`
	Value       float64           `json:"value"`
	Service     string            `json:"service" binding:"required"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags"`
}

type ingestMetricsRequest struct {
	Points []ingestPointRequest `json:"points" binding:"required"`
}

func (h *Handler) ingestMetrics(c *gin.Context) {
	var req ingestMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inputs := make([]services.MetricPointInput, 0, len(req.Points))
	for _, p := range req.Points {
		inputs = append(inputs, services.MetricPointInput{
			Timestamp:   p.Timestamp,
			Metric:      p.Metric,
			Value:       p.Value,
			Service:     p.Service,
			Environment: p.Environment,
			Tags:        p.Tags,
		})
	}

	ingested, err := h.service.IngestMetrics(c.Request.Context(), inputs)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"ingested": ingested})
}

func (h *Handler) pendingWorkflows(c *gin.Context) {
	pending, err := h.service.PendingWorkflows(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]workflowDTO, 0, len(pending))
	for _, wf := range pending {
		out = append(out, toWorkflowDTO(wf))
	}
	c.JSON(http.StatusOK, gin.H{"workflows": out, "count": len(out)})
}

type decideWorkflowRequest struct {
	WorkflowID string `json:"workflow_id" binding:"required"`
	Approved   bool   `json:"approved"`
	User       string `json:"user"`
	Reason     string `json:"reason"`
}

func (h *Handler) decideWorkflow(c *gin.Context) {
	var req decideWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		wf  models.PendingWorkflow
		err error
	)
	if req.Approved {
		wf, err = h.service.ApproveWorkflow(c.Request.Context(), req.WorkflowID, req.User)
	} else {
		wf, err = h.service.RejectWorkflow(c.Request.Context(), req.WorkflowID, req.User, req.Reason)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toWorkflowDTO(wf))
}

func (h *Handler) suspectCommits(c *gin.Context) {
	anomalyAt := time.Now().UTC()
	if raw := c.Query("anomaly_at"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "anomaly_at must be RFC3339"})
			return
		}
		anomalyAt = parsed
	}

	suspects, err := h.service.SuspectCommits(c.Request.Context(), anomalyAt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]suspectCommitDTO, 0, len(suspects))
	for _, s := range suspects {
		out = append(out, suspectCommitDTO{
			SHA:       s.Commit.SHA,
			Author:    s.Commit.Author,
			Message:   s.Commit.Message,
			Timestamp: s.Commit.Timestamp,
			URL:       s.Commit.URL,
			Score:     s.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"suspect_commits": out, "count": len(out)})
}

func (h *Handler) recentActivity(c *gin.Context) {
	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := utils.ParseRFC3339(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		since = parsed
	}

	entries, err := h.service.RecentActivity(c.Request.Context(), c.Query("type"), since, parseLimit(c.Query("limit")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]activityDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, activityDTO{
			Timestamp: e.Timestamp,
			Type:      e.Type,
			User:      e.User,
			Summary:   e.Summary,
			Details:   e.Details,
			Status:    e.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{"activities": out, "count": len(out)})
}

func (h *Handler) activityStats(c *gin.Context) {
	lookback := 24 * time.Hour
	if raw := c.Query("lookback"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lookback must be a positive duration"})
			return
		}
		lookback = parsed
	}

	stats, err := h.service.ActivityStats(c.Request.Context(), lookback)
	if err != nil {
		h.writeError(c, err)
		return
	}

	top := make([]gin.H, 0, len(stats.TopTypes))
	for _, tc := range stats.TopTypes {
		top = append(top, gin.H{"type": tc.Type, "count": tc.Count})
	}
	c.JSON(http.StatusOK, gin.H{
		"window_start": stats.WindowStart,
		"total":        stats.Total,
		"by_type":      stats.ByType,
		"by_status":    stats.ByStatus,
		"top_types":    top,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		transitionErr  *registry.InvalidTransitionError
		decisionErr    *workflow.DecisionError
		consistencyErr *models.ConsistencyError
	)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &transitionErr), errors.As(err, &decisionErr), errors.Is(err, workflow.ErrPipelineActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &consistencyErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
