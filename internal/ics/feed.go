package ics

import (
	"context"
	"sort"
	"time"

	"alarmclock/internal/model"
)

// Feed is the calendar source the scheduler polls. It combines fetching,
// parsing and recurrence expansion of a single ICS subscription.
type Feed struct {
	fetcher *Fetcher
	src     Source
	horizon time.Duration
	loc     *time.Location
}

// NewFeed creates a Feed for the given ICS URL. horizon is how far ahead
// recurrences are expanded; loc is the timezone alarms are evaluated in
// (nil means time.Local).
func NewFeed(url, cacheDir string, horizon time.Duration, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	if horizon <= 0 {
		horizon = 7 * 24 * time.Hour
	}
	return &Feed{
		fetcher: NewFetcher(cacheDir),
		src:     Source{ID: "alarms", URL: url},
		horizon: horizon,
		loc:     loc,
	}
}

// Upcoming returns all alarm occurrences in [now, now+horizon], sorted by
// start time. Fetch or parse failures surface as *FetchError; the caller
// decides what to do with its previous schedule.
func (f *Feed) Upcoming(ctx context.Context, now time.Time) ([]model.AlarmEvent, error) {
	res, err := f.fetcher.Fetch(ctx, f.src)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(f.src, res.Body)
	if err != nil {
		return nil, err
	}

	alarms, err := Expand(parsed, ExpandConfig{
		Location:   f.loc,
		RangeStart: now,
		RangeEnd:   now.Add(f.horizon),
	})
	if err != nil {
		return nil, &FetchError{URL: f.src.URL, Err: err}
	}

	sort.Slice(alarms, func(i, j int) bool {
		return alarms[i].Start.Before(alarms[j].Start)
	})
	return alarms, nil
}
