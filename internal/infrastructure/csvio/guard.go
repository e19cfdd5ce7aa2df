package csvio

import (
	"kgload/internal/domain/kgload"
)

// Guard enforces the malformed-row tolerance for one input file.
// Tolerance 0 fails on the first bad row, a negative tolerance never fails.
type Guard struct {
	File      string
	Want      int
	Tolerance int64
	Bad       int64
}

// NewGuard expects rows of width want; want 0 adopts the width of the first
// good row.
func NewGuard(file string, want int, tolerance int64) *Guard {
	return &Guard{File: file, Want: want, Tolerance: tolerance}
}

// Check classifies the result of one Read. It returns keep=false for rows that
// must be skipped and a *kgload.MalformedRowError once the tolerance is spent.
func (g *Guard) Check(line int64, row []string, readErr error) (keep bool, err error) {
	if readErr != nil {
		return false, g.reject(line, len(row), readErr)
	}
	if g.Want == 0 {
		g.Want = len(row)
		return true, nil
	}
	if len(row) != g.Want {
		return false, g.reject(line, len(row), nil)
	}
	return true, nil
}

func (g *Guard) reject(line int64, got int, cause error) error {
	g.Bad++
	if g.Tolerance < 0 || g.Bad <= g.Tolerance {
		return nil
	}
	return &kgload.MalformedRowError{
		File:      g.File,
		Line:      line,
		Got:       got,
		Want:      g.Want,
		Bad:       g.Bad,
		Tolerance: g.Tolerance,
		Cause:     cause,
	}
}
