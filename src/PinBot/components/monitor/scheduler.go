package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

// ErrPollInProgress means a poll for the channel is already running; the
// caller should not queue a second concurrent pass.
var ErrPollInProgress = errors.New("poll already in progress for channel")

// SubmissionSource fetches fresh submissions for a target.
type SubmissionSource interface {
	LocationSubmissions(ctx context.Context, id int64) ([]pinmap.Submission, error)
	SubmissionsWithinRange(ctx context.Context, lat, lon, radius float64) ([]pinmap.Submission, error)
}

// Dispatcher delivers one poll cycle's events for a target. Delivery is fire
// and forget: a failed send never rolls back the seen-set update.
type Dispatcher interface {
	Dispatch(ctx context.Context, cfg data.ChannelConfig, target data.MonitoringTarget, events []pinmap.Submission)
}

// Scheduler drives all channels from one loop. The tick interval bounds how
// late a due channel is serviced and must stay well under the minimum poll
// rate.
type Scheduler struct {
	store      Store
	source     SubmissionSource
	dispatcher Dispatcher

	tick         time.Duration
	fetchTimeout time.Duration
	retention    time.Duration

	mu      sync.Mutex
	polling map[string]bool

	lastPrune time.Time
}

const (
	defaultTick         = time.Minute
	defaultFetchTimeout = 30 * time.Second
	defaultRetention    = 180 * 24 * time.Hour
	pruneEvery          = 24 * time.Hour
)

func NewScheduler(store Store, source SubmissionSource, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		store:        store,
		source:       source,
		dispatcher:   dispatcher,
		tick:         defaultTick,
		fetchTimeout: defaultFetchTimeout,
		retention:    defaultRetention,
		polling:      make(map[string]bool),
	}
}

// SetTick overrides the tick interval (tests use short ticks).
func (s *Scheduler) SetTick(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// Run drives scheduled polling until the context is cancelled. The in-flight
// channel poll completes; no further channels or ticks start after that.
func (s *Scheduler) Run(ctx context.Context) {
	log.Println("monitor: scheduler started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("monitor: scheduler stopped")
			return
		case now := <-ticker.C:
			s.runTick(ctx, now)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context, now time.Time) {
	channels, err := s.store.GetActiveChannels()
	if err != nil {
		log.Printf("monitor: list active channels: %v", err)
		return
	}

	for _, cfg := range channels {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !due(cfg, now) {
			continue
		}
		if !s.tryAcquire(cfg.ChannelID) {
			// Overlapping manual check; this tick skips rather than queue.
			log.Printf("monitor: channel %s already polling, skipping tick", cfg.ChannelID)
			continue
		}
		if _, err := s.pollChannel(ctx, cfg, now); err != nil {
			log.Printf("monitor: poll channel %s: %v", cfg.ChannelID, err)
		}
		s.release(cfg.ChannelID)
	}

	s.maybePrune(now)
}

// CheckNow runs the poll routine immediately for one channel, outside its
// schedule. It shares the per-channel lock with the scheduled path and
// updates last-poll state exactly like a scheduled poll. Returns the number
// of events dispatched.
func (s *Scheduler) CheckNow(ctx context.Context, channelID string) (int, error) {
	cfg, err := s.store.GetChannel(channelID)
	if err != nil {
		return 0, fmt.Errorf("load channel config: %w", err)
	}
	if !s.tryAcquire(channelID) {
		return 0, ErrPollInProgress
	}
	defer s.release(channelID)

	return s.pollChannel(ctx, *cfg, time.Now())
}

// due: never for inactive channels; otherwise when the channel has no
// last-poll time or its interval has fully elapsed.
func due(cfg data.ChannelConfig, now time.Time) bool {
	if !cfg.IsActive {
		return false
	}
	if cfg.LastPollTime == nil {
		return true
	}
	return now.Sub(*cfg.LastPollTime) >= time.Duration(cfg.PollRateMinutes)*time.Minute
}

// pollChannel runs fetch+diff+notify for every target of one channel. The
// last-poll time advances no matter how the cycle ends so a failing channel
// retries on its normal schedule instead of hot-looping.
func (s *Scheduler) pollChannel(ctx context.Context, cfg data.ChannelConfig, now time.Time) (dispatched int, err error) {
	defer func() {
		if uerr := s.store.UpdateLastPollTime(cfg.ChannelID, now); uerr != nil {
			log.Printf("monitor: update last poll time for %s: %v", cfg.ChannelID, uerr)
		}
	}()

	targets, err := s.store.GetTargets(cfg.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("load targets: %w", err)
	}
	if len(targets) == 0 {
		return 0, nil
	}

	seen, err := s.store.GetSeenSubmissionIDs(cfg.ChannelID)
	if err != nil {
		return 0, fmt.Errorf("load seen set: %w", err)
	}

	for _, target := range targets {
		// One bad target never blocks the channel's other targets.
		events, err := s.pollTarget(ctx, cfg, target, seen)
		if err != nil {
			log.Printf("monitor: channel %s target %s: %v", cfg.ChannelID, target.TargetKey, err)
			continue
		}
		dispatched += events
	}

	return dispatched, nil
}

func (s *Scheduler) pollTarget(ctx context.Context, cfg data.ChannelConfig, target data.MonitoringTarget, seen map[int64]struct{}) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	fresh, err := s.fetch(fetchCtx, target)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	seeded, err := s.store.TargetHasHistory(cfg.ChannelID, target.TargetKey)
	if err != nil {
		return 0, fmt.Errorf("seen history: %w", err)
	}

	events, snapshot := Diff(seen, seeded, fresh)

	// Persist the snapshot before dispatch: if this write fails the
	// notification is not considered sent, and the next poll re-emits it.
	if err := s.store.MarkSubmissionsSeen(cfg.ChannelID, target.TargetKey, snapshot); err != nil {
		return 0, fmt.Errorf("mark seen: %w", err)
	}
	for _, id := range snapshot {
		seen[id] = struct{}{}
	}

	if len(events) > 0 {
		s.dispatcher.Dispatch(ctx, cfg, target, events)
	}
	return len(events), nil
}

func (s *Scheduler) fetch(ctx context.Context, target data.MonitoringTarget) ([]pinmap.Submission, error) {
	switch target.TargetType {
	case data.TargetLocation:
		return s.source.LocationSubmissions(ctx, target.LocationID)
	case data.TargetCoordinates:
		return s.source.SubmissionsWithinRange(ctx, target.Latitude, target.Longitude, target.RadiusMiles)
	default:
		return nil, fmt.Errorf("unknown target type %q", target.TargetType)
	}
}

func (s *Scheduler) tryAcquire(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.polling[channelID] {
		return false
	}
	s.polling[channelID] = true
	return true
}

func (s *Scheduler) release(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.polling, channelID)
}

func (s *Scheduler) maybePrune(now time.Time) {
	if s.retention <= 0 || now.Sub(s.lastPrune) < pruneEvery {
		return
	}
	s.lastPrune = now
	pruned, err := s.store.PruneSeenBefore(now.Add(-s.retention))
	if err != nil {
		log.Printf("monitor: prune seen submissions: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("monitor: pruned %d seen submissions older than %s", pruned, s.retention)
	}
}
