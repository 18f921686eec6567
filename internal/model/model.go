package model

import "time"

// Parity restricts a weekly lesson slot to odd or even ISO weeks.
// Most slots repeat every week (ParityAny); sources that alternate
// lessons between weeks mark them odd/even.
type Parity int

const (
	ParityAny Parity = iota
	ParityOdd
	ParityEven
)

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "any"
	}
}

// LessonTemplate is one weekly-recurring class slot as observed in a
// fetched week. Templates are created fresh on every fetch cycle and
// never mutated after parsing.
type LessonTemplate struct {
	Subject  string
	Teacher  string
	Location string

	// Weekday and StartMinute place the slot inside its week;
	// StartMinute counts from local midnight.
	Weekday     time.Weekday
	StartMinute int
	Duration    time.Duration

	// WeekIndex is the 0-based fetched week the slot was observed in.
	WeekIndex int

	Parity Parity

	// Cancelled is set when the source itself marks the slot cancelled.
	Cancelled bool
}

// Occurrence is one concrete dated instance of a lesson after
// recurrence resolution.
//
// Start carries the local wall-clock time in a UTC container; the
// configured UTC offset is applied exactly once, by the calendar
// encoder, never here.
type Occurrence struct {
	Start    time.Time
	Duration time.Duration

	Subject  string
	Teacher  string
	Location string

	Cancelled bool
}

// End returns the occurrence end instant.
func (o Occurrence) End() time.Time {
	return o.Start.Add(o.Duration)
}
