// Package audit writes one structured entry per ledger decision.
package audit

import (
	"time"

	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
)

// Event is a single audit entry.
type Event struct {
	Timestamp time.Time
	EventType string
	RecordID  int64
	UserID    int64
	Amount    string
	Currency  string
	Status    string
	Details   map[string]string
}

type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit")}
}

// LogCommitted records a committed ledger operation.
func (a *Logger) LogCommitted(rec *models.TransactionRecord, replayed bool) {
	details := map[string]string{"description": rec.Description}
	if rec.Source != nil {
		details["from"] = rec.Source.String()
	}
	if rec.Destination != nil {
		details["to"] = rec.Destination.String()
	}
	status := "SUCCESS"
	if replayed {
		status = "REPLAYED"
	}
	a.log(Event{
		Timestamp: time.Now(),
		EventType: string(rec.Kind),
		RecordID:  rec.ID,
		UserID:    rec.UserID,
		Amount:    rec.Amount.String(),
		Currency:  rec.Currency,
		Status:    status,
		Details:   details,
	})
}

// LogRejected records an operation that failed with a typed error.
func (a *Logger) LogRejected(op string, userID int64, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: op,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"kind": string(models.KindOf(err)), "error": err.Error()},
	})
}

// LogOperation records a non-monetary event such as account opening.
func (a *Logger) LogOperation(operation string, userID int64, details string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		UserID:    userID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(e Event) {
	a.logger.Info("AUDIT",
		zap.Time("timestamp", e.Timestamp),
		zap.String("event_type", e.EventType),
		zap.Int64("record_id", e.RecordID),
		zap.Int64("user_id", e.UserID),
		zap.String("amount", e.Amount),
		zap.String("currency", e.Currency),
		zap.String("status", e.Status),
		zap.Any("details", e.Details),
	)
}
