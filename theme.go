package trickle

// Theme defines semantic color mappings using ANSI color indices (0-15).
// The user's terminal theme determines the actual RGB values. A negative
// index means no color.
type Theme struct {
	UserMsg int // User prompt accent
	Error   int // Failure messages
	Success int // Completion indicators
	Muted   int // Gutters, labels, status lines
	Accent  int // Language labels, artifact titles
}

// DefaultTheme returns the default ANSI color mapping.
func DefaultTheme() Theme {
	return Theme{
		UserMsg: 4,
		Error:   1,
		Success: 2,
		Muted:   8,
		Accent:  5,
	}
}
