// internal/model/user.go
package model

import "time"

type User struct {
	ID         int64      `db:"id" json:"id"`
	Email      string     `db:"email" json:"email"`
	FirstName  string     `db:"first_name" json:"first_name"`
	LastName   string     `db:"last_name" json:"last_name"`
	IsActive   bool       `db:"is_active" json:"is_active"`
	DateJoined time.Time  `db:"date_joined" json:"date_joined"`
	LastLogin  *time.Time `db:"last_login" json:"last_login,omitempty"`
}

// TemplateContext is the view of a user exposed to subject and body templates.
func (u User) TemplateContext() map[string]any {
	ctx := map[string]any{
		"id":          u.ID,
		"email":       u.Email,
		"first_name":  u.FirstName,
		"last_name":   u.LastName,
		"is_active":   u.IsActive,
		"date_joined": u.DateJoined,
	}
	if u.LastLogin != nil {
		ctx["last_login"] = *u.LastLogin
	}
	return ctx
}
