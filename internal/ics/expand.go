package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "alarmclock/internal/log"
	"alarmclock/internal/model"
)

const defaultMaxOccurrencesPerEvent = 1000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the timezone all alarms are converted into. If nil,
	// time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps expansion of pathological rules. Zero
	// means defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into concrete alarm occurrences within the
// configured window. It handles:
//
//   - single non-recurring events
//   - RRULE-based recurrence
//   - EXDATE exception removal
//   - RECURRENCE-ID overrides
//   - all-day semantics
//
// No ordering is guaranteed; the caller sorts.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.AlarmEvent, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	alarms := make([]model.AlarmEvent, 0)
	for uid, baseEvents := range baseByUID {
		overrides := overridesByUID[uid]
		for _, ev := range baseEvents {
			occ, hitCap := expandEvent(ev, overrides, cfg)
			if hitCap {
				appLog.Warn("expand: occurrence cap hit, truncating",
					"uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			alarms = append(alarms, occ...)
		}
	}
	return alarms, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.AlarmEvent, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.AlarmEvent {
	start, end := ev.Start, ev.End
	if o, ok := findOverrideForStart(overrides, start); ok {
		start, end = o.Start, o.End
		ev = o
	}
	if ev.AllDay {
		start, end = allDayWindow(start, cfg.Location)
	}

	if !timeRangesOverlap(start, end, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.AlarmEvent{makeAlarm(ev, start, end, cfg.Location)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.AlarmEvent, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		// Align EXDATE location with the event's start.
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Query in the event's own location so DST shifts line up.
	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]model.AlarmEvent, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.AllDay {
			occStart, occEnd = allDayWindow(occStart, cfg.Location)
		} else {
			occEnd = occStart.Add(ev.End.Sub(ev.Start))
		}

		start, end, occEv := occStart, occEnd, ev
		if o, ok := findOverrideForStart(overrides, occStart); ok {
			start, end, occEv = o.Start, o.End, o
		}
		out = append(out, makeAlarm(occEv, start, end, cfg.Location))
	}
	return out, hitCap
}

// allDayWindow maps an all-day occurrence to [00:00, 00:00+24h) on its
// calendar date in loc. The date is taken from the occurrence's own
// representation, so a UTC-dated DTSTART keeps its wall-clock day
// instead of shifting into the previous evening when loc is west of it.
func allDayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.Add(24 * time.Hour)
}

// findOverrideForStart finds an override whose RECURRENCE-ID matches the
// given occurrence start with exact time equality.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.In(start.Location()).Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeAlarm converts a (possibly overridden) ParsedEvent plus a concrete
// start/end into a model.AlarmEvent normalized into loc.
func makeAlarm(ev ParsedEvent, start, end time.Time, loc *time.Location) model.AlarmEvent {
	startLocal := start.In(loc)
	return model.AlarmEvent{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         end.In(loc),
	}
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
