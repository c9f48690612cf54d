package capture

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how admissions are triggered. The zero value is Manual.
type Mode struct {
	automatic bool
	interval  time.Duration
}

// Manual requires an explicit trigger for every admission.
func Manual() Mode {
	return Mode{}
}

// Automatic admits at most one capture per interval.
func Automatic(interval time.Duration) (Mode, error) {
	if interval <= 0 {
		return Mode{}, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	return Mode{automatic: true, interval: interval}, nil
}

// ParseMode builds a Mode from its config name ("manual" or "automatic").
func ParseMode(name string, interval time.Duration) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "manual":
		return Manual(), nil
	case "automatic", "auto":
		return Automatic(interval)
	}
	return Mode{}, fmt.Errorf("unknown capture mode %q", name)
}

func (m Mode) IsAutomatic() bool       { return m.automatic }
func (m Mode) Interval() time.Duration { return m.interval }

func (m Mode) String() string {
	if m.automatic {
		return fmt.Sprintf("automatic(%s)", m.interval)
	}
	return "manual"
}

// MarshalText renders the mode as "manual" or "automatic(1s)".
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the forms produced by MarshalText.
func (m *Mode) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "manual" || s == "" {
		*m = Manual()
		return nil
	}
	if strings.HasPrefix(s, "automatic(") && strings.HasSuffix(s, ")") {
		d, err := time.ParseDuration(s[len("automatic(") : len(s)-1])
		if err != nil {
			return fmt.Errorf("invalid capture mode %q: %w", s, err)
		}
		parsed, err := Automatic(d)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	return fmt.Errorf("unknown capture mode %q", s)
}
