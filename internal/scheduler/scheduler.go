// Package scheduler holds the single authority deciding when the relay
// activates. It reconciles three time-varying inputs, the remote
// calendar, the wall clock and the occupancy sensor, into one decision
// per alarm instant: fire or suppress.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	appLog "alarmclock/internal/log"
	"alarmclock/internal/model"
	"alarmclock/internal/occupancy"
	"alarmclock/internal/relay"
)

// CalendarSource is the contract the calendar side exposes to the
// scheduler: all upcoming alarm events, in no required order.
type CalendarSource interface {
	Upcoming(ctx context.Context, now time.Time) ([]model.AlarmEvent, error)
}

// State is the schedule state owned exclusively by the Scheduler.
//
// NextEvent, if set, is always the earliest future event known at the
// time of the last successful refresh; it is replaced wholesale on each
// refresh, never patched incrementally.
//
// LastFire records the alarm instant most recently decided (fired or
// suppressed), enforcing at most one decision per instant across the
// ticks that follow it.
//
// ActiveUntil, if set, is when the currently sounding alarm ends and the
// relay is released.
type State struct {
	NextEvent   *model.AlarmEvent
	LastRefresh time.Time
	LastFire    time.Time
	ActiveUntil time.Time
}

// Options configures a Scheduler.
type Options struct {
	// RefreshInterval is the calendar refresh cadence.
	RefreshInterval time.Duration
	// TickInterval is the decision cadence. Sub-minute keeps trigger
	// latency bounded.
	TickInterval time.Duration
	// Now supplies the current time; tests inject a synthetic clock.
	// Nil means time.Now.
	Now func() time.Time
}

// minRing is how long the relay stays latched when the firing event has
// no usable end time (DTEND missing or already past at the firing tick).
const minRing = time.Minute

// Scheduler owns the State and drives both the refresh cadence and the
// tick loop. State access is serialized by a mutex since refresh runs on
// the cron goroutine while ticks run on the caller's.
type Scheduler struct {
	calendar CalendarSource
	sensor   occupancy.Sensor
	relay    relay.Actuator

	refreshEvery time.Duration
	tickEvery    time.Duration
	now          func() time.Time

	mu      sync.Mutex
	state   State
	feedSig string
}

// New creates a Scheduler. The initial state has no next alarm; call
// Refresh (or Run, which does) to populate it.
func New(calendar CalendarSource, sensor occupancy.Sensor, actuator relay.Actuator, opts Options) *Scheduler {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		calendar:     calendar,
		sensor:       sensor,
		relay:        actuator,
		refreshEvery: opts.RefreshInterval,
		tickEvery:    opts.TickInterval,
		now:          opts.Now,
	}
}

// Refresh pulls the calendar and replaces the next alarm with the
// earliest event starting after now. On fetch failure the previous
// schedule is retained unchanged: stale-but-valid beats no schedule.
// The failure is logged and returned, never fatal.
func (s *Scheduler) Refresh(ctx context.Context) error {
	now := s.now()

	events, err := s.calendar.Upcoming(ctx, now)
	if err != nil {
		appLog.Error("calendar refresh failed; keeping previous schedule", err)
		return err
	}

	// The collaborator guarantees no ordering; scan for the minimum.
	var next *model.AlarmEvent
	for i := range events {
		ev := events[i]
		if !ev.Start.After(now) {
			continue
		}
		if next == nil || ev.Start.Before(next.Start) {
			next = &ev
		}
	}

	sig := feedSignature(events)

	s.mu.Lock()
	s.state.NextEvent = next
	s.state.LastRefresh = now
	changed := sig != s.feedSig
	s.feedSig = sig
	s.mu.Unlock()
	if changed {
		logSummary(events, now)
	}

	if next != nil {
		appLog.Debug("schedule refreshed", "next_alarm", next.Start.Format(time.RFC3339), "summary", next.Summary, "event_count", len(events))
	} else {
		appLog.Debug("schedule refreshed, no upcoming alarms", "event_count", len(events))
	}
	return nil
}

// Tick runs one decision cycle at the given instant.
//
//  0. Release the relay once the sounding alarm's window has passed.
//  1. No next alarm: nothing to do.
//  2. Alarm instant not reached: nothing to do.
//  3. Instant already decided (fired or suppressed): nothing to do.
//  4. Read the sensor; occupied fires the relay, absence suppresses the
//     instant permanently. A sensor error counts as absence. An actuator
//     error leaves the instant undecided so the next tick retries.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.ActiveUntil.IsZero() && !now.Before(s.state.ActiveUntil) {
		if err := s.relay.Deactivate(ctx); err != nil {
			appLog.Error("relay deactivate failed", err)
		} else {
			appLog.Info("alarm ended")
			s.state.ActiveUntil = time.Time{}
		}
	}

	ev := s.state.NextEvent
	if ev == nil {
		return
	}
	if now.Before(ev.Start) {
		return
	}
	if !s.state.LastFire.IsZero() && !s.state.LastFire.Before(ev.Start) {
		return
	}

	occupied, err := s.sensor.Read(ctx)
	if err != nil {
		appLog.Error("occupancy read failed; treating as not occupied", err)
		occupied = false
	}

	if !occupied {
		// The instant is handled even though nothing sounded: occupancy
		// appearing later must not retroactively fire it.
		s.state.LastFire = ev.Start
		appLog.Info("alarm suppressed, bed not occupied", "summary", ev.Summary, "start", ev.Start.Format(time.RFC3339))
		return
	}

	if err := s.relay.Activate(ctx); err != nil {
		// LastFire stays unset so the next tick retries activation.
		appLog.Error("relay activate failed; retrying next tick", err)
		return
	}

	s.state.LastFire = ev.Start
	activeUntil := ev.End
	if !activeUntil.After(now) {
		activeUntil = now.Add(minRing)
	}
	s.state.ActiveUntil = activeUntil
	appLog.Info("alarm fired", "summary", ev.Summary, "start", ev.Start.Format(time.RFC3339), "until", activeUntil.Format(time.RFC3339))
}

// Run performs an initial refresh, then drives refreshes on a cron
// schedule and ticks on a ticker until ctx is canceled. The relay is
// released on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		// Steady-state policy applies from the first refresh onward:
		// retry on the normal cadence.
		appLog.Warn("initial refresh failed; will retry on schedule")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.refreshEvery), func() {
		_ = s.Refresh(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.relay.Deactivate(context.Background()); err != nil {
				appLog.Error("relay release on shutdown failed", err)
			}
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Snapshot returns a copy of the current schedule state.
func (s *Scheduler) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.NextEvent != nil {
		ev := *st.NextEvent
		st.NextEvent = &ev
	}
	return st
}

// feedSignature hashes the event list so summary logging only happens
// when the feed content actually changed.
func feedSignature(events []model.AlarmEvent) string {
	h := sha256.New()
	for _, ev := range events {
		fmt.Fprintf(h, "%s|%s|%s|%s\n", ev.UID, ev.InstanceKey, ev.End.Format(time.RFC3339Nano), ev.Summary)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// logSummary reports the upcoming alarms in human terms, once per feed
// change.
func logSummary(events []model.AlarmEvent, now time.Time) {
	if len(events) == 0 {
		appLog.Info("calendar has no upcoming alarms")
		return
	}
	for _, ev := range events {
		if ev.Start.After(now) {
			appLog.Info("upcoming alarm",
				"summary", ev.Summary,
				"start", ev.Start.Format(time.RFC3339),
				"when", humanize.Time(ev.Start),
				"duration", ev.End.Sub(ev.Start).String(),
			)
		} else {
			appLog.Info("alarm already active",
				"summary", ev.Summary,
				"since", humanize.Time(ev.Start),
				"ends", humanize.Time(ev.End),
			)
		}
	}
}
