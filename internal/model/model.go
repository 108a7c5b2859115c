package model

import "time"

// AlarmEvent is a single concrete alarm occurrence produced by the
// calendar feed (after recurrence expansion and timezone normalization).
// It is an immutable value: the scheduler only reads it.
type AlarmEvent struct {
	SourceID string // calendar source ID (from config)
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	Summary string

	AllDay bool

	// Start / End are in the configured display timezone. Start is the
	// alarm instant; End bounds how long the relay stays latched.
	Start time.Time
	End   time.Time
}
