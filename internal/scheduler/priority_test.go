package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eastside-lobby/nametag-fleet/internal/adapter"
)

func baseCfg() Config {
	cfg := DefaultConfig()
	cfg.SuccessDelay = 10 * time.Second
	cfg.AttemptDelay = 5 * time.Second
	cfg.MaximumAge = 60 * time.Second
	cfg.MinimumRSSI = -80
	return cfg
}

func freshSnap(id string, now time.Time) adapter.Snapshot {
	return adapter.Snapshot{
		Address:           "AA:BB:" + id,
		BadgeID:           id,
		LastSeenMonotonic: now,
		RSSI:              -50,
		IsBadge:           true,
		HandleState:       adapter.HandleDisconnected,
	}
}

func TestClassifyConnectedTakesPriorityOverEverythingElse(t *testing.T) {
	now := time.Now()
	snap := freshSnap("1", now)
	snap.HandleState = adapter.HandleConnected
	d := classify(baseCfg(), now, candidate{snap: snap}, true, true)
	require.Equal(t, DispositionConnected, d)
}

func TestClassifyHandlePending(t *testing.T) {
	now := time.Now()
	snap := freshSnap("1", now)
	snap.HandleState = adapter.HandlePending
	d := classify(baseCfg(), now, candidate{snap: snap}, false, true)
	require.Equal(t, DispositionHandlePending, d)
}

func TestClassifyTaskRunning(t *testing.T) {
	now := time.Now()
	c := candidate{snap: freshSnap("1", now)}
	d := classify(baseCfg(), now, c, true, true)
	require.Equal(t, DispositionTaskRunning, d)
}

func TestClassifyCoolingDownAfterSuccess(t *testing.T) {
	now := time.Now()
	c := candidate{snap: freshSnap("1", now), hist: history{lastSuccess: now.Add(-2 * time.Second)}}
	d := classify(baseCfg(), now, c, false, true)
	require.Equal(t, DispositionCoolingDownSuccess, d)
}

func TestClassifyCoolingDownAfterAttemptOnly(t *testing.T) {
	now := time.Now()
	c := candidate{snap: freshSnap("1", now), hist: history{lastAttempt: now.Add(-1 * time.Second)}}
	d := classify(baseCfg(), now, c, false, true)
	require.Equal(t, DispositionCoolingDownAttempt, d)
}

func TestClassifyStaleBeyondMaximumAge(t *testing.T) {
	now := time.Now()
	snap := freshSnap("1", now)
	snap.LastSeenMonotonic = now.Add(-61 * time.Second)
	d := classify(baseCfg(), now, candidate{snap: snap}, false, true)
	require.Equal(t, DispositionStale, d)
}

// A badge between 1x and 2x MaximumAge is still Stale at the classify
// level: the harsher "drop from consideration entirely" cutoff at 2x is
// a separate pre-filter applied before classify ever sees the candidate
// (see pass in scheduler.go), not a second disposition here.
func TestClassifyStaleBetweenOneAndTwiceMaximumAge(t *testing.T) {
	now := time.Now()
	snap := freshSnap("1", now)
	snap.LastSeenMonotonic = now.Add(-90 * time.Second)
	d := classify(baseCfg(), now, candidate{snap: snap}, false, true)
	require.Equal(t, DispositionStale, d)
}

func TestClassifyWeakSignalAtOrBelowMinimum(t *testing.T) {
	now := time.Now()
	snap := freshSnap("1", now)
	snap.RSSI = -80
	d := classify(baseCfg(), now, candidate{snap: snap}, false, true)
	require.Equal(t, DispositionWeakSignal, d)
}

func TestClassifyAdapterBusyWhenNotReady(t *testing.T) {
	now := time.Now()
	d := classify(baseCfg(), now, candidate{snap: freshSnap("1", now)}, false, false)
	require.Equal(t, DispositionAdapterBusy, d)
}

func TestClassifyQueuedWhenNothingElseApplies(t *testing.T) {
	now := time.Now()
	d := classify(baseCfg(), now, candidate{snap: freshSnap("1", now)}, false, true)
	require.Equal(t, DispositionQueued, d)
}

func TestOrderCandidatesLeastRecentlyActedUponFirst(t *testing.T) {
	now := time.Now()
	cs := []candidate{
		{snap: freshSnap("B", now), hist: history{lastSuccess: now.Add(-1 * time.Second)}},
		{snap: freshSnap("A", now), hist: history{}},
		{snap: freshSnap("C", now), hist: history{lastSuccess: now.Add(-5 * time.Second)}},
	}
	orderCandidates(cs)
	require.Equal(t, []string{"A", "C", "B"}, []string{cs[0].snap.BadgeID, cs[1].snap.BadgeID, cs[2].snap.BadgeID})
}

func TestOrderCandidatesTieBreaksOnID(t *testing.T) {
	now := time.Now()
	cs := []candidate{
		{snap: freshSnap("Z", now)},
		{snap: freshSnap("A", now)},
	}
	orderCandidates(cs)
	require.Equal(t, "A", cs[0].snap.BadgeID)
	require.Equal(t, "Z", cs[1].snap.BadgeID)
}

func TestOrderCandidatesFallsBackToLastAttemptWhenSuccessesTie(t *testing.T) {
	now := time.Now()
	cs := []candidate{
		{snap: freshSnap("B", now), hist: history{lastAttempt: now.Add(-1 * time.Second)}},
		{snap: freshSnap("A", now), hist: history{lastAttempt: now.Add(-10 * time.Second)}},
	}
	orderCandidates(cs)
	require.Equal(t, "A", cs[0].snap.BadgeID)
}
