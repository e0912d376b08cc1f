// internal/model/sent_drip.go
package model

import "time"

// SentDrip is the ledger entry written after a drip reached a user.
type SentDrip struct {
	ID      int64     `db:"id" json:"id"`
	DripID  int64     `db:"drip_id" json:"drip_id"`
	UserID  int64     `db:"user_id" json:"user_id"`
	Subject string    `db:"subject" json:"subject"`
	Body    string    `db:"body" json:"body"`
	SentAt  time.Time `db:"sent_at" json:"sent_at"`
}
