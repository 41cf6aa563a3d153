// Package yearcal provides academic year code providers.
package yearcal

import (
	"fmt"
	"time"
)

// Fixed always returns the same year code. Used by CLIs where the operator
// supplies the year explicitly.
type Fixed struct {
	code string
}

// NewFixed returns a provider pinned to code.
func NewFixed(code string) Fixed { return Fixed{code: code} }

func (f Fixed) CurrentYearCode() string { return f.code }

// Gregorian derives the year code from a Gregorian cut-over date: after the
// cut-over the code is the current year mod 100, before it the previous
// year's. The clock is injected so tests can pin time.
type Gregorian struct {
	CutoverMonth time.Month
	CutoverDay   int
	Location     *time.Location
	Now          func() time.Time
}

// NewGregorian builds a cut-over provider. now may be nil (defaults to
// time.Now).
func NewGregorian(month time.Month, day int, loc *time.Location, now func() time.Time) Gregorian {
	if now == nil {
		now = time.Now
	}
	return Gregorian{CutoverMonth: month, CutoverDay: day, Location: loc, Now: now}
}

func (g Gregorian) CurrentYearCode() string {
	now := g.Now().In(g.Location)
	cutover := time.Date(now.Year(), g.CutoverMonth, g.CutoverDay, 0, 0, 0, 0, g.Location)
	year := now.Year()
	if !now.After(cutover) {
		year--
	}
	return fmt.Sprintf("%02d", year%100)
}
