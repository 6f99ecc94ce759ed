package outbox

import (
	"time"
)

// Message is a pending event written in the same transaction as the state
// change it describes. A relay worker publishes it and removes the row.
type Message struct {
	ID           int64
	Topic        string
	PartitionKey string
	Payload      []byte
	RetryCount   int
	MaxRetries   int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	NextRetryAt  time.Time
}
