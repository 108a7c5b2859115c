package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func icsBody(lines ...string) []byte {
	all := append([]string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//alarmclock test//EN",
	}, lines...)
	all = append(all, "END:VCALENDAR", "")
	return []byte(strings.Join(all, "\r\n"))
}

var testSrc = Source{ID: "alarms", URL: "https://calendar.example.com/alarms.ics"}

func TestParseSimpleEvent(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:morning@test",
		"SUMMARY:Wake up",
		"DTSTART:20260310T070000Z",
		"DTEND:20260310T073000Z",
		"END:VEVENT",
	)

	events, err := Parse(testSrc, body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, "morning@test", ev.UID)
	require.Equal(t, "Wake up", ev.Summary)
	require.True(t, ev.Start.Equal(time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)))
	require.True(t, ev.End.Equal(time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC)))
	require.False(t, ev.AllDay)
	require.Empty(t, ev.RawRRule)
}

func TestParseRecurringEvent(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:daily@test",
		"SUMMARY:Daily alarm",
		"DTSTART:20260310T070000Z",
		"DTEND:20260310T071000Z",
		"RRULE:FREQ=DAILY",
		"EXDATE:20260312T070000Z",
		"END:VEVENT",
	)

	events, err := Parse(testSrc, body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, "FREQ=DAILY", ev.RawRRule)
	require.Len(t, ev.ExDates, 1)
	require.True(t, ev.ExDates[0].Equal(time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC)))
}

func TestParseAllDayEvent(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:holiday@test",
		"SUMMARY:Holiday",
		"DTSTART;VALUE=DATE:20260310",
		"DTEND;VALUE=DATE:20260311",
		"END:VEVENT",
	)

	events, err := Parse(testSrc, body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.True(t, events[0].AllDay)
}

func TestParseSkipsEventWithoutUID(t *testing.T) {
	body := icsBody(
		"BEGIN:VEVENT",
		"SUMMARY:No UID",
		"DTSTART:20260310T070000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:good@test",
		"SUMMARY:Good",
		"DTSTART:20260310T080000Z",
		"DTEND:20260310T081000Z",
		"END:VEVENT",
	)

	events, err := Parse(testSrc, body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "good@test", events[0].UID)
}

func TestParseSkipsEventWithoutStart(t *testing.T) {
	// A VEVENT with no DTSTART must be skipped like the missing-UID
	// case, not carried forward with a zero start that expansion would
	// silently drop.
	body := icsBody(
		"BEGIN:VEVENT",
		"UID:nostart@test",
		"SUMMARY:No start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:good@test",
		"SUMMARY:Good",
		"DTSTART:20260310T080000Z",
		"DTEND:20260310T081000Z",
		"END:VEVENT",
	)

	events, err := Parse(testSrc, body)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "good@test", events[0].UID)
	require.False(t, events[0].Start.IsZero())
}

func TestParseEmptyBody(t *testing.T) {
	_, err := Parse(testSrc, nil)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}
