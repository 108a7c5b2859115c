package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "alarmclock/internal/log"
)

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in the event's own timezone
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// Parse parses a single ICS payload into a list of ParsedEvent.
//
//   - Timezone handling (VTIMEZONE/TZID) is delegated to the library's
//     DTSTART/DTEND helpers.
//   - All-day events are detected from the DTSTART value format.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded here;
//     expansion lives in expand.go.
//
// A payload that fails to parse wholesale yields a *FetchError: from the
// scheduler's point of view an unparseable feed and an unreachable feed
// recover the same way.
func Parse(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, &FetchError{URL: src.URL, Err: errors.New("empty ICS body")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{URL: src.URL, Err: err}
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// Skip this event but keep parsing the rest of the feed.
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "url", RedactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	// DTSTART / DTEND via the library's timezone-aware helpers. All-day
	// values (VALUE=DATE) need the dedicated accessor as a fallback.
	start, err := ve.GetStartAt()
	if err != nil {
		start, err = ve.GetAllDayStartAt()
	}
	if err != nil || start.IsZero() {
		// A zero start would silently vanish during expansion; skip the
		// event loudly instead, like the missing-UID case.
		return out, errors.New("missing or unparseable DTSTART")
	}
	out.Start = start

	end, err := ve.GetEndAt()
	if err != nil {
		end, err = ve.GetAllDayEndAt()
	}
	if err == nil {
		out.End = end
	}

	// All-day when DTSTART carries VALUE=DATE or has no time component.
	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	// Events with a DTSTART but no DTEND are treated as instantaneous;
	// the scheduler still needs an end to bound the relay latch.
	if out.End.IsZero() {
		out.End = out.Start
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE may appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	// RECURRENCE-ID marks an overridden instance of a recurring event.
	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := parseICSTime(ridProp.Value); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parseICSTime parses a basic ICS date/date-time string. It is used for
// EXDATE and RECURRENCE-ID values where full parameter context is not
// available; expansion aligns timezones afterwards.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	// Local date-time, e.g. 20250101T090000
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	// Date-only (all-day), e.g. 20250101
	return time.ParseInLocation("20060102", v, time.Local)
}
