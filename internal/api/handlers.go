package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/services"
)

// Service is the behaviour the HTTP handlers need.
type Service interface {
	Query(ctx context.Context, req models.QueryRequest) (models.QueryResponse, error)
	SLO() (services.SLOReport, error)
	Incidents() []models.Incident
	Incident(id string) (models.Incident, error)
	Patterns() []models.BreachPattern
	Replay(ctx context.Context) ([]models.ReplayOutcome, error)
	ReloadFaults() (chaos.FaultTable, error)
	Status() services.Status
	Available() bool
}

const serviceName = "mirador-chaos"

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers serves the HTTP API.
type Handlers struct {
	svc    Service
	logger *slog.Logger
}

// NewHandlers constructs the handlers.
func NewHandlers(svc Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{svc: svc, logger: logger}
}

// NewRouter builds a gin engine with every route registered.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(serviceName), requestLogger(h.logger))
	r.GET("/healthz", h.HandleHealth)
	RegisterRoutes(r.Group("/v1"), h)
	return r
}

// RegisterRoutes mounts the versioned API on g.
func RegisterRoutes(g *gin.RouterGroup, h *Handlers) {
	g.POST("/query", h.HandleQuery)
	g.GET("/slo", h.HandleSLO)
	g.GET("/incidents", h.HandleIncidents)
	g.GET("/incidents/:id", h.HandleIncident)
	g.GET("/patterns", h.HandlePatterns)
	g.POST("/replay", h.HandleReplay)
	g.POST("/chaos/reload", h.HandleReloadFaults)
	g.GET("/status", h.HandleStatus)
}

// HandleHealth reports liveness and whether any backend is admitting calls.
func (h *Handlers) HandleHealth(c *gin.Context) {
	if !h.svc.Available() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleQuery answers a question.
func (h *Handlers) HandleQuery(c *gin.Context) {
	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid query body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	resp, err := h.svc.Query(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "QUERY_FAILED")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleSLO returns the current SLO evaluation.
func (h *Handlers) HandleSLO(c *gin.Context) {
	report, err := h.svc.SLO()
	if err != nil {
		h.writeError(c, err, "SLO_FAILED")
		return
	}
	c.JSON(http.StatusOK, report)
}

// HandleIncidents lists incidents in creation order.
func (h *Handlers) HandleIncidents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"incidents": h.svc.Incidents()})
}

// HandleIncident returns one incident by id.
func (h *Handlers) HandleIncident(c *gin.Context) {
	inc, err := h.svc.Incident(c.Param("id"))
	if err != nil {
		h.writeError(c, err, "INCIDENT_LOOKUP_FAILED")
		return
	}
	c.JSON(http.StatusOK, inc)
}

// HandlePatterns returns recurring breach signatures across incidents.
func (h *Handlers) HandlePatterns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"patterns": h.svc.Patterns()})
}

// HandleReplay runs a shadow replay synchronously.
func (h *Handlers) HandleReplay(c *gin.Context) {
	outcomes, err := h.svc.Replay(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "REPLAY_FAILED")
		return
	}
	degraded := 0
	for _, o := range outcomes {
		if o.Comparison.Degraded {
			degraded++
		}
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes, "total": len(outcomes), "degraded": degraded})
}

// HandleReloadFaults reloads the fault table from disk.
func (h *Handlers) HandleReloadFaults(c *gin.Context) {
	table, err := h.svc.ReloadFaults()
	if err != nil {
		h.logger.Warn("fault reload failed", slog.Any("error", err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "RELOAD_FAILED", "faults": table})
		return
	}
	c.JSON(http.StatusOK, gin.H{"faults": table})
}

// HandleStatus reports the runtime control state.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Status())
}

func (h *Handlers) writeError(c *gin.Context, err error, code string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, services.ErrNotConfigured):
		status, code = http.StatusServiceUnavailable, "NOT_CONFIGURED"
	default:
		h.logger.Error("request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}
