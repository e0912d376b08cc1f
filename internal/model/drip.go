// internal/model/drip.go
package model

import "time"

type Drip struct {
	ID              int64     `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Enabled         bool      `db:"enabled" json:"enabled"`
	SubjectTemplate string    `db:"subject_template" json:"subject_template"`
	BodyTemplate    string    `db:"body_html_template" json:"body_html_template"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// DripStats summarizes the ledger of one drip.
type DripStats struct {
	DripID     int64      `json:"drip_id"`
	Sent       int        `json:"sent"`
	Recipients int        `json:"recipients"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}
