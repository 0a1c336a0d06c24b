package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flipstack/pinbot/src/shared/data"
	"github.com/flipstack/pinbot/src/shared/pinmap"
)

type fakeStore struct {
	mu       sync.Mutex
	channels []data.ChannelConfig
	targets  map[string][]data.MonitoringTarget
	seen     map[string]map[int64]struct{}
	history  map[string]bool
	lastPoll map[string]time.Time
	pruned   []time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		targets:  make(map[string][]data.MonitoringTarget),
		seen:     make(map[string]map[int64]struct{}),
		history:  make(map[string]bool),
		lastPoll: make(map[string]time.Time),
	}
}

func (f *fakeStore) GetActiveChannels() ([]data.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var active []data.ChannelConfig
	for _, cfg := range f.channels {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	return active, nil
}

func (f *fakeStore) GetChannel(channelID string) (*data.ChannelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cfg := range f.channels {
		if cfg.ChannelID == channelID {
			c := cfg
			return &c, nil
		}
	}
	return nil, errors.New("channel not found")
}

func (f *fakeStore) GetTargets(channelID string) ([]data.MonitoringTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[channelID], nil
}

func (f *fakeStore) GetSeenSubmissionIDs(channelID string) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]struct{}, len(f.seen[channelID]))
	for id := range f.seen[channelID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) TargetHasHistory(channelID, targetKey string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[channelID+"|"+targetKey], nil
}

func (f *fakeStore) MarkSubmissionsSeen(channelID, targetKey string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[channelID] == nil {
		f.seen[channelID] = make(map[int64]struct{})
	}
	for _, id := range ids {
		f.seen[channelID][id] = struct{}{}
	}
	f.history[channelID+"|"+targetKey] = true
	return nil
}

func (f *fakeStore) UpdateLastPollTime(channelID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPoll[channelID] = t
	for i := range f.channels {
		if f.channels[i].ChannelID == channelID {
			ts := t
			f.channels[i].LastPollTime = &ts
		}
	}
	return nil
}

func (f *fakeStore) PruneSeenBefore(cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, cutoff)
	return 0, nil
}

type fakeSource struct {
	mu         sync.Mutex
	byLocation map[int64][]pinmap.Submission
	errByLoc   map[int64]error
	byCoord    []pinmap.Submission
}

func (f *fakeSource) LocationSubmissions(_ context.Context, id int64) ([]pinmap.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errByLoc[id]; err != nil {
		return nil, err
	}
	return f.byLocation[id], nil
}

func (f *fakeSource) SubmissionsWithinRange(_ context.Context, _, _, _ float64) ([]pinmap.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byCoord, nil
}

func (f *fakeSource) setLocation(id int64, subs []pinmap.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byLocation == nil {
		f.byLocation = make(map[int64][]pinmap.Submission)
	}
	f.byLocation[id] = subs
}

type dispatchCall struct {
	channelID string
	targetKey string
	events    []pinmap.Submission
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, cfg data.ChannelConfig, target data.MonitoringTarget, events []pinmap.Submission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{channelID: cfg.ChannelID, targetKey: target.TargetKey, events: events})
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func locationTarget(channelID string, locationID int64) data.MonitoringTarget {
	return data.MonitoringTarget{
		ChannelID:  channelID,
		TargetKey:  fmt.Sprintf("loc:%d", locationID),
		TargetType: data.TargetLocation,
		LocationID: locationID,
	}
}

func channelConfig(channelID string, rate int, lastPoll *time.Time) data.ChannelConfig {
	return data.ChannelConfig{
		ChannelID:         channelID,
		GuildID:           "guild-1",
		IsActive:          true,
		PollRateMinutes:   rate,
		NotificationTypes: data.NotifyAll,
		LastPollTime:      lastPoll,
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	past := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name string
		cfg  data.ChannelConfig
		want bool
	}{
		{"never polled", channelConfig("c", 60, nil), true},
		{"interval not elapsed", channelConfig("c", 60, past(59*time.Minute)), false},
		{"interval exactly elapsed", channelConfig("c", 60, past(60*time.Minute)), true},
		{"interval over-elapsed", channelConfig("c", 60, past(61*time.Minute)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, due(tt.cfg, now))
		})
	}

	t.Run("inactive never due", func(t *testing.T) {
		cfg := channelConfig("c", 60, nil)
		cfg.IsActive = false
		assert.False(t, due(cfg, now))
	})
}

func TestRunTickSkipsChannelNotYetDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Minute)

	store := newFakeStore()
	store.channels = []data.ChannelConfig{channelConfig("c1", 60, &recent)}
	store.targets["c1"] = []data.MonitoringTarget{locationTarget("c1", 1)}

	source := &fakeSource{}
	source.setLocation(1, []pinmap.Submission{{ID: 1}})
	dispatcher := &fakeDispatcher{}

	NewScheduler(store, source, dispatcher).runTick(context.Background(), now)

	assert.Zero(t, dispatcher.callCount())
	_, polled := store.lastPoll["c1"]
	assert.False(t, polled, "a channel inside its interval must not be polled")
}

func TestRunTickSeedsThenNotifiesNewSubmissions(t *testing.T) {
	store := newFakeStore()
	store.channels = []data.ChannelConfig{channelConfig("c1", 60, nil)}
	store.targets["c1"] = []data.MonitoringTarget{locationTarget("c1", 1309)}

	base := time.Now()
	source := &fakeSource{}
	source.setLocation(1309, []pinmap.Submission{
		{ID: 100, ChangeType: pinmap.ChangeAdded, CreatedAt: base},
		{ID: 101, ChangeType: pinmap.ChangeComment, CreatedAt: base},
	})
	dispatcher := &fakeDispatcher{}
	sched := NewScheduler(store, source, dispatcher)

	// First poll seeds the target silently.
	sched.runTick(context.Background(), base)
	assert.Zero(t, dispatcher.callCount())
	assert.Len(t, store.seen["c1"], 2)
	require.Contains(t, store.lastPoll, "c1")

	// Second poll sees one genuinely new submission.
	source.setLocation(1309, []pinmap.Submission{
		{ID: 100, ChangeType: pinmap.ChangeAdded, CreatedAt: base},
		{ID: 101, ChangeType: pinmap.ChangeComment, CreatedAt: base},
		{ID: 102, ChangeType: pinmap.ChangeAdded, CreatedAt: base.Add(time.Minute)},
	})
	sched.runTick(context.Background(), base.Add(61*time.Minute))

	require.Equal(t, 1, dispatcher.callCount())
	call := dispatcher.calls[0]
	assert.Equal(t, "c1", call.channelID)
	require.Len(t, call.events, 1)
	assert.Equal(t, int64(102), call.events[0].ID)
	assert.Len(t, store.seen["c1"], 3)
}

func TestRunTickIsolatesFailingChannel(t *testing.T) {
	store := newFakeStore()
	base := time.Now()
	for i, id := range []int64{1, 2, 3} {
		channelID := fmt.Sprintf("c%d", i+1)
		store.channels = append(store.channels, channelConfig(channelID, 60, nil))
		store.targets[channelID] = []data.MonitoringTarget{locationTarget(channelID, id)}
		store.history[channelID+"|"+fmt.Sprintf("loc:%d", id)] = true
	}

	source := &fakeSource{errByLoc: map[int64]error{2: errors.New("upstream 500")}}
	source.setLocation(1, []pinmap.Submission{{ID: 10, ChangeType: pinmap.ChangeAdded, CreatedAt: base}})
	source.setLocation(3, []pinmap.Submission{{ID: 30, ChangeType: pinmap.ChangeAdded, CreatedAt: base}})
	dispatcher := &fakeDispatcher{}

	NewScheduler(store, source, dispatcher).runTick(context.Background(), base)

	// Healthy channels still notify.
	require.Equal(t, 2, dispatcher.callCount())
	assert.Equal(t, "c1", dispatcher.calls[0].channelID)
	assert.Equal(t, "c3", dispatcher.calls[1].channelID)

	// The failing channel's schedule still advances so it retries at its
	// normal interval instead of hot-looping.
	for _, channelID := range []string{"c1", "c2", "c3"} {
		assert.Contains(t, store.lastPoll, channelID)
	}
}

func TestCheckNowReportsEventCount(t *testing.T) {
	store := newFakeStore()
	store.channels = []data.ChannelConfig{channelConfig("c1", 60, nil)}
	store.targets["c1"] = []data.MonitoringTarget{locationTarget("c1", 7)}
	store.history["c1|loc:7"] = true

	base := time.Now()
	source := &fakeSource{}
	source.setLocation(7, []pinmap.Submission{
		{ID: 1, ChangeType: pinmap.ChangeAdded, CreatedAt: base},
		{ID: 2, ChangeType: pinmap.ChangeRemoved, CreatedAt: base},
	})
	dispatcher := &fakeDispatcher{}
	sched := NewScheduler(store, source, dispatcher)

	n, err := sched.CheckNow(context.Background(), "c1")

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, dispatcher.callCount())
	assert.Contains(t, store.lastPoll, "c1")
}

func TestCheckNowRejectsConcurrentPoll(t *testing.T) {
	store := newFakeStore()
	store.channels = []data.ChannelConfig{channelConfig("c1", 60, nil)}

	sched := NewScheduler(store, &fakeSource{}, &fakeDispatcher{})
	require.True(t, sched.tryAcquire("c1"))
	defer sched.release("c1")

	_, err := sched.CheckNow(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrPollInProgress)
}

func TestCheckNowUnknownChannel(t *testing.T) {
	sched := NewScheduler(newFakeStore(), &fakeSource{}, &fakeDispatcher{})

	_, err := sched.CheckNow(context.Background(), "nope")
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sched := NewScheduler(newFakeStore(), &fakeSource{}, &fakeDispatcher{})
	sched.SetTick(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestPruneRunsAtMostOncePerDay(t *testing.T) {
	store := newFakeStore()
	sched := NewScheduler(store, &fakeSource{}, &fakeDispatcher{})

	now := time.Now()
	sched.runTick(context.Background(), now)
	sched.runTick(context.Background(), now.Add(time.Minute))

	require.Len(t, store.pruned, 1)
	// Cutoff sits at the retention horizon.
	assert.WithinDuration(t, now.Add(-180*24*time.Hour), store.pruned[0], time.Second)
}
