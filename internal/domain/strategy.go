package domain

import "time"

// ExecutionMode selects whether a strategy trades against a paper broker or a
// live one.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "PAPER"
	ModeLive  ExecutionMode = "LIVE"
)

// Valid reports whether m is a known execution mode.
func (m ExecutionMode) Valid() bool {
	return m == ModePaper || m == ModeLive
}

// Strategy is a named, versioned strategy configuration. The registry owns
// the configuration blob; consumers receive copies.
type Strategy struct {
	ID          string
	Name        string
	Description *string
	ClassName   string
	Config      map[string]any
	Enabled     bool
	Mode        ExecutionMode
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
