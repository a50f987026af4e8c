package ledger

import "time"

// Status is the lifecycle state of a trade record.
// PENDING is the only non-terminal state; transitions are monotonic and a
// terminal record is never mutated again.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusFilled    Status = "FILLED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsAvailable reports whether the status is a known value.
func (s Status) IsAvailable() bool {
	switch s {
	case StatusPending, StatusFilled, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TradeRecord is the durable intent record. It is written with status
// PENDING strictly before any broker interaction, so a crash at any point
// leaves either no record (consistent no-op) or a PENDING record the
// recovery pass reconciles against the broker.
type TradeRecord struct {
	ID            uint64 `gorm:"primaryKey"`
	ClientOrderID string `gorm:"uniqueIndex;not null"`
	Symbol        string `gorm:"not null"`
	Side          string `gorm:"not null"`
	Quantity      int64  `gorm:"not null"`
	Price         string `gorm:"type:numeric(19,8)"`
	Status        Status `gorm:"not null"`
	IsTest        bool   `gorm:"not null;default:false"`
	BrokerOrderID *string
	LastError     *string
	CreatedAt     time.Time `gorm:"not null"`
	ResolvedAt    *time.Time
}

// TableName keeps the historical table name.
func (TradeRecord) TableName() string {
	return "trades"
}
