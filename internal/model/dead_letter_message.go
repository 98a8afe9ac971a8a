package model

import "time"

// DeadLetterMessage is a queue message that exhausted its retries, persisted for inspection.
type DeadLetterMessage struct {
	ID               string    `db:"id"`
	SubscriptionName string    `db:"subscription_name"`
	MessageID        string    `db:"message_id"`
	Payload          string    `db:"payload"`    // JSON string
	Attributes       *string   `db:"attributes"` // nullable JSON string
	ErrorDetails     string    `db:"error_details"`
	Status           string    `db:"status"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}
