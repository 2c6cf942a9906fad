package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/brewguard/internal/events"
	"github.com/example/brewguard/internal/logging"
)

// EventLog is a persisted observability event.
type EventLog struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"column:timestamp;index"`
	Level     string    `gorm:"column:level;size:8;index"`
	Context   string    `gorm:"column:context;size:64"`
	Message   string    `gorm:"column:message;type:text"`
	Data      string    `gorm:"column:data;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (EventLog) TableName() string {
	return "event_logs"
}

// NewEventLog converts an event into its stored form.
func NewEventLog(ev events.Event) (*EventLog, error) {
	log := &EventLog{
		Timestamp: ev.Timestamp.UTC(),
		Level:     string(ev.Level),
		Context:   ev.Context,
		Message:   ev.Message,
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, err
		}
		log.Data = string(data)
	}
	return log, nil
}

// Event converts the stored row back into an event.
func (l EventLog) Event() events.Event {
	ev := events.Event{
		Timestamp: l.Timestamp,
		Level:     events.Level(l.Level),
		Context:   l.Context,
		Message:   l.Message,
	}
	if l.Data != "" {
		_ = json.Unmarshal([]byte(l.Data), &ev.Data)
	}
	return ev
}

// EventSummary counts stored events.
type EventSummary struct {
	Total   int64            `json:"total"`
	ByLevel map[string]int64 `json:"byLevel"`
}

// EventRepository persists events received by the proxy.
type EventRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewEventRepository creates a repository with retrying writes.
func NewEventRepository(db *gorm.DB, logger *zap.Logger) *EventRepository {
	return &EventRepository{
		db:             db,
		logger:         logger.Named("event_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *EventRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&EventLog{})
}

// SaveEvent stores one event, retrying transient failures.
func (r *EventRepository) SaveEvent(ctx context.Context, log *EventLog) error {
	return r.executeWithRetry(ctx, "repository.save_event", "", func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// Recent returns the newest events first.
func (r *EventRepository) Recent(ctx context.Context, limit int) ([]EventLog, error) {
	var logs []EventLog
	err := r.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.recent_events", "", err)
	}
	return logs, nil
}

// Summary counts events per level.
func (r *EventRepository) Summary(ctx context.Context) (*EventSummary, error) {
	var rows []struct {
		Level string
		Count int64
	}
	err := r.db.WithContext(ctx).Model(&EventLog{}).
		Select("level, COUNT(*) AS count").
		Group("level").
		Scan(&rows).Error
	if err != nil {
		return nil, logging.NewOperationError("repository.event_summary", "", err)
	}

	summary := &EventSummary{ByLevel: make(map[string]int64, len(rows))}
	for _, row := range rows {
		summary.ByLevel[row.Level] = row.Count
		summary.Total += row.Count
	}
	return summary, nil
}

func (r *EventRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	opLogger := logging.WithOperation(r.logger, operation, requestID)

	backoff := r.initialBackoff
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if !isTransientError(err) || attempt == attempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, requestID, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
