package advancement

import (
	"errors"
	"fmt"
)

// ErrRulesViolation is the sentinel wrapped by every RulesViolation.
var ErrRulesViolation = errors.New("rules violation")

// RulesViolation reports that submitted or automatic data breaks a game rule.
// It is recoverable: the user can correct the input and try again.
type RulesViolation struct {
	Advancement string
	Level       int
	Reason      string
}

// Error implements the error interface.
func (e *RulesViolation) Error() string {
	if e.Advancement == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s (level %d): %s", e.Advancement, e.Level, e.Reason)
}

// Unwrap returns ErrRulesViolation for errors.Is compatibility.
func (e *RulesViolation) Unwrap() error {
	return ErrRulesViolation
}

// Violationf builds a RulesViolation for the advancement in t.
func Violationf(t Target, level int, format string, args ...any) *RulesViolation {
	title := ""
	if t.Advancement != nil {
		title = t.Advancement.Title
		if title == "" {
			title = t.Advancement.Type
		}
	}
	return &RulesViolation{
		Advancement: title,
		Level:       level,
		Reason:      fmt.Sprintf(format, args...),
	}
}

// IsRulesViolation reports whether err is or wraps a RulesViolation.
func IsRulesViolation(err error) bool {
	var rv *RulesViolation
	return errors.As(err, &rv)
}
