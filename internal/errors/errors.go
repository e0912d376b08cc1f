// internal/errors/errors.go
package appErrors

import "fmt"

// ErrDripNotFound is returned when a drip id or name has no row.
type ErrDripNotFound struct {
	DripID int64
	Name   string
}

func (e *ErrDripNotFound) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("drip %q not found", e.Name)
	}
	return fmt.Sprintf("drip with ID %d not found", e.DripID)
}

// Helper constructor
func NewDripNotFound(id int64) error {
	return &ErrDripNotFound{DripID: id}
}

func NewDripNameNotFound(name string) error {
	return &ErrDripNotFound{Name: name}
}

// ParseError reports a rule value that cannot be turned into a comparison value.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %q: %s", e.Raw, e.Reason)
}

func NewParseError(raw, reason string) error {
	return &ParseError{Raw: raw, Reason: reason}
}

// ConfigurationError reports a rule that references something the store cannot
// resolve (unknown entity, non-aggregatable field, unknown method type).
type ConfigurationError struct {
	Subject string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Subject, e.Reason)
}

func NewConfigurationError(subject, reason string) error {
	return &ConfigurationError{Subject: subject, Reason: reason}
}

// RuleError attaches drip and rule context to a failure raised while applying a rule.
type RuleError struct {
	Drip   string
	RuleID int64
	Err    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("drip %q rule %d: %v", e.Drip, e.RuleID, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

func NewRuleError(drip string, ruleID int64, err error) error {
	return &RuleError{Drip: drip, RuleID: ruleID, Err: err}
}

// SendError is a transport failure for a single recipient on the direct path.
type SendError struct {
	Drip   string
	UserID int64
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("drip %q: send to user %d failed: %v", e.Drip, e.UserID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func NewSendError(drip string, userID int64, err error) error {
	return &SendError{Drip: drip, UserID: userID, Err: err}
}

// BadRequest is a rejection from the marketing API.
type BadRequest struct {
	Status  int
	Code    int
	Message string
}

func (e *BadRequest) Error() string {
	return fmt.Sprintf("marketing api rejected request (status %d, code %d): %s", e.Status, e.Code, e.Message)
}

// ErrNotFound is returned by lookups on the marketing API (templates) that found nothing.
type ErrNotFound struct {
	Kind string
	Name string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with the name %q does not exist", e.Kind, e.Name)
}
