package audit

import (
	"time"

	"go.uber.org/zap"
)

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Reference string            `json:"reference"`
	Wallet    string            `json:"wallet,omitempty"`
	Amount    int64             `json:"amount"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

const (
	EventSale       = "SALE"
	EventPosting    = "POSTING"
	EventWithdrawal = "WITHDRAWAL"
	EventError      = "ERROR"
)

// Logger writes audit events as structured zap entries under the "audit" logger.
type Logger struct {
	log   *zap.Logger
	clock func() time.Time
}

// NewLogger uses the global zap logger when l is nil.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.L()
	}
	return &Logger{log: l.Named("audit"), clock: time.Now}
}

func (a *Logger) LogSale(reference string, amount int64, status string, details map[string]string) {
	a.emit(Event{
		EventType: EventSale,
		Reference: reference,
		Amount:    amount,
		Status:    status,
		Details:   details,
	})
}

// LogPosting records one wallet movement. Amount is signed.
func (a *Logger) LogPosting(reference, wallet, txType string, amount int64) {
	a.emit(Event{
		EventType: EventPosting,
		Reference: reference,
		Wallet:    wallet,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"type": txType},
	})
}

func (a *Logger) LogWithdrawal(withdrawalID, wallet string, amount int64, status string, details map[string]string) {
	a.emit(Event{
		EventType: EventWithdrawal,
		Reference: withdrawalID,
		Wallet:    wallet,
		Amount:    amount,
		Status:    status,
		Details:   details,
	})
}

func (a *Logger) LogError(reference, wallet string, err error) {
	a.emit(Event{
		EventType: EventError,
		Reference: reference,
		Wallet:    wallet,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) emit(event Event) {
	event.Timestamp = a.clock()
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.String("reference", event.Reference),
		zap.Int64("amount", event.Amount),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.Wallet != "" {
		fields = append(fields, zap.String("wallet", event.Wallet))
	}
	if len(event.Details) > 0 {
		fields = append(fields, zap.Any("details", event.Details))
	}
	a.log.Info("AUDIT", fields...)
}
