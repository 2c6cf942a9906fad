package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/brewguard/internal/detection"
	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/gateway"
	"github.com/example/brewguard/internal/logging"
	"github.com/example/brewguard/internal/repository"
)

// MaxRequestSize bounds /api/detect bodies: a 10 MiB image grows by a third
// once base64 encoded.
const MaxRequestSize = 16 << 20

const (
	maxEventSize      = 64 << 10
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Forwarder sends a validated request upstream.
type Forwarder interface {
	Forward(ctx context.Context, requestID string, req detection.DetectionRequest) detection.Outcome
}

// EventStore persists events received on /api/logs.
type EventStore interface {
	SaveEvent(ctx context.Context, log *repository.EventLog) error
	Recent(ctx context.Context, limit int) ([]repository.EventLog, error)
	Summary(ctx context.Context) (*repository.EventSummary, error)
}

// Dependencies groups what the routes need. Store may be nil.
type Dependencies struct {
	Forwarder Forwarder
	Store     EventStore
	Events    *events.Emitter
	Logger    *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("handlers")

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/detect", detectHandler(deps.Forwarder, deps.Events, logger))
	api.POST("/logs", ingestEventHandler(deps.Store, logger))
	api.GET("/logs", recentEventsHandler(deps.Store))
	api.GET("/logs/summary", eventSummaryHandler(deps.Store))
}

func detectHandler(fwd Forwarder, emitter *events.Emitter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.NewString()
		opLogger := logging.WithOperation(logger, "handlers.detect", requestID)
		c.Header("X-Request-ID", requestID)

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestSize)
		var req detection.DetectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gateway.ErrorResponse{Error: "request body too large"})
				return
			}
			opLogger.Warn("invalid detect request", zap.Error(err))
			c.JSON(http.StatusBadRequest, gateway.ErrorResponse{Error: "invalid JSON body"})
			return
		}
		if err := req.Validate(); err != nil {
			opLogger.Warn("rejected detect request", zap.Error(err))
			emitter.Warn("proxy", "rejected detect request", map[string]any{"requestId": requestID, "reason": err.Error()})
			c.JSON(http.StatusBadRequest, gateway.ErrorResponse{Error: err.Error()})
			return
		}

		opLogger.Info("forwarding detect request",
			zap.String("model_type", string(req.ModelType)),
			zap.String("detection_type", string(req.DetectionType)),
			zap.Int("confidence", req.Confidence),
			zap.Int("overlap", req.Overlap))

		status, body := gateway.Response(fwd.Forward(c.Request.Context(), requestID, req))
		c.JSON(status, body)
	}
}

func ingestEventHandler(store EventStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxEventSize)
		var ev events.Event
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
			return
		}
		if err := ev.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if store == nil {
			logger.Debug("event received without store",
				zap.String("level", string(ev.Level)), zap.String("context", ev.Context), zap.String("message", ev.Message))
			c.JSON(http.StatusAccepted, gin.H{"stored": false})
			return
		}

		row, err := repository.NewEventLog(ev)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event data is not serializable"})
			return
		}
		if err := store.SaveEvent(c.Request.Context(), row); err != nil {
			// Reported locally only; re-emitting could loop back into this endpoint.
			logger.Error("failed to persist event", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store event"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"stored": true, "id": row.ID})
	}
}

func recentEventsHandler(store EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event storage is not configured"})
			return
		}
		limit := defaultEventLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxEventLimit)
		}

		logs, err := store.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
			return
		}
		out := make([]events.Event, 0, len(logs))
		for _, l := range logs {
			out = append(out, l.Event())
		}
		c.JSON(http.StatusOK, gin.H{"events": out})
	}
}

func eventSummaryHandler(store EventStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event storage is not configured"})
			return
		}
		summary, err := store.Summary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize events"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}
