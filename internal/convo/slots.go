package convo

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Slot validation rules:
// - email: syntactic check only, no deliverability probing
// - name/phone: non-empty after trimming
// - date ("2006-01-02") + time ("15:04"): the combined instant must be in
//   the future at validation time; each part is format-checked on its own
//   when the other is still unset.

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// FieldError describes one rejected slot value.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func validateEmail(v string) error {
	if !emailRe.MatchString(v) {
		return fmt.Errorf("not a valid email address")
	}
	return nil
}

func validateNonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func validateDate(v string) error {
	if _, err := time.Parse(dateLayout, v); err != nil {
		return fmt.Errorf("expected format %s", dateLayout)
	}
	return nil
}

func validateTime(v string) error {
	if _, err := time.Parse(timeLayout, v); err != nil {
		return fmt.Errorf("expected format %s", timeLayout)
	}
	return nil
}

// combinedInstant parses date+time in the local offset of now.
func combinedInstant(date, timeOfDay string, now time.Time) (time.Time, error) {
	return time.ParseInLocation(dateLayout+" "+timeLayout, date+" "+timeOfDay, now.Location())
}

// validateSchedulable checks that date+time, once both are known, lie in the
// future relative to now.
func validateSchedulable(date, timeOfDay string, now time.Time) error {
	if date == "" || timeOfDay == "" {
		return nil
	}
	at, err := combinedInstant(date, timeOfDay, now)
	if err != nil {
		return fmt.Errorf("not a valid date/time")
	}
	if !at.After(now) {
		return fmt.Errorf("appointment must be in the future")
	}
	return nil
}
