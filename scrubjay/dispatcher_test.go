package scrubjay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures sent messages per channel, optionally
// failing specific channels to simulate unreachable destinations.
type recordingNotifier struct {
	mu           sync.Mutex
	sent         map[string][]*discordgo.MessageSend
	failChannels map[string]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		sent:         map[string][]*discordgo.MessageSend{},
		failChannels: map[string]bool{},
	}
}

func (n *recordingNotifier) Send(
	_ context.Context,
	channelID string,
	message *discordgo.MessageSend,
) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failChannels[channelID] {
		return errors.New("channel unreachable")
	}
	n.sent[channelID] = append(n.sent[channelID], message)
	return nil
}

func (n *recordingNotifier) sentTo(channelID string) []*discordgo.MessageSend {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[channelID]
}

func (n *recordingNotifier) setFailing(channelID string, failing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failChannels[channelID] = failing
}

func TestDispatcherAtMostOnce(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	queries := NewUndeliveredQuery(gdb, nil)
	ledger := NewDeliveryLedger(writeDB, nil)
	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newObservationStrategy(queries, 7*24*time.Hour, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)
	ctx := context.Background()

	loc := seedLocation(
		t, gdb, Location{
			LocID:      "L1",
			RegionCode: "US-NY",
			CountyCode: "US-NY-109",
		},
	)
	obs := seedObservation(
		t, gdb, Observation{
			SpeciesCode: "sp1",
			CommonName:  "Bird One",
			SubID:       "S1",
			LocID:       loc.LocID,
			ObsDt:       obsTimestamp(-time.Hour),
		},
	)
	seedSubscription(
		t, gdb, "c1",
		RegionScope{Region: "US-NY", Subregion: SubregionWildcard},
	)

	require.NoError(t, dispatcher.RunCycle(ctx))
	require.Len(t, notifier.sentTo("c1"), 1)

	delivered, err := ledger.Exists(ctx, KindObservation, obs.ObsKey, "c1")
	require.NoError(t, err)
	assert.True(t, delivered)

	// a second cycle over the same data sends nothing
	require.NoError(t, dispatcher.RunCycle(ctx))
	assert.Len(t, notifier.sentTo("c1"), 1)

	stats := dispatcher.Stats()
	assert.Equal(t, KindObservation, stats.Kind)
	assert.Equal(t, int64(2), stats.Cycles)
	assert.Equal(t, int64(1), stats.Candidates)
	assert.Equal(t, int64(1), stats.Recorded)
	assert.Zero(t, stats.SendFailures)
}

func TestDispatcherPartialFailureIsolation(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	queries := NewUndeliveredQuery(gdb, nil)
	ledger := NewDeliveryLedger(writeDB, nil)
	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newObservationStrategy(queries, 7*24*time.Hour, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)
	ctx := context.Background()

	loc := seedLocation(
		t, gdb, Location{
			LocID:      "L1",
			RegionCode: "US-NY",
			CountyCode: "US-NY-109",
		},
	)
	obs := seedObservation(
		t, gdb, Observation{
			SpeciesCode: "sp1",
			CommonName:  "Bird One",
			SubID:       "S1",
			LocID:       loc.LocID,
			ObsDt:       obsTimestamp(-time.Hour),
		},
	)
	scope := RegionScope{Region: "US-NY", Subregion: SubregionWildcard}
	seedSubscription(t, gdb, "healthy", scope)
	seedSubscription(t, gdb, "broken", scope)

	notifier.setFailing("broken", true)
	require.NoError(t, dispatcher.RunCycle(ctx))

	// the healthy channel got its message and its delivery was recorded
	require.Len(t, notifier.sentTo("healthy"), 1)
	delivered, err := ledger.Exists(ctx, KindObservation, obs.ObsKey, "healthy")
	require.NoError(t, err)
	assert.True(t, delivered)

	// the broken channel's items stayed pending
	assert.Empty(t, notifier.sentTo("broken"))
	delivered, err = ledger.Exists(ctx, KindObservation, obs.ObsKey, "broken")
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Equal(t, int64(1), dispatcher.Stats().SendFailures)

	// once the channel recovers, only its pending items are re-sent
	notifier.setFailing("broken", false)
	require.NoError(t, dispatcher.RunCycle(ctx))
	assert.Len(t, notifier.sentTo("broken"), 1)
	assert.Len(t, notifier.sentTo("healthy"), 1)
}

func TestDispatcherOverlapGuard(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	queries := NewUndeliveredQuery(gdb, nil)
	ledger := NewDeliveryLedger(writeDB, nil)
	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newObservationStrategy(queries, 7*24*time.Hour, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)

	loc := seedLocation(
		t, gdb, Location{
			LocID:      "L1",
			RegionCode: "US-NY",
			CountyCode: "US-NY-109",
		},
	)
	seedObservation(
		t, gdb, Observation{
			SpeciesCode: "sp1",
			CommonName:  "Bird One",
			SubID:       "S1",
			LocID:       loc.LocID,
			ObsDt:       obsTimestamp(-time.Hour),
		},
	)
	seedSubscription(
		t, gdb, "c1",
		RegionScope{Region: "US-NY", Subregion: SubregionWildcard},
	)

	// a tick landing mid-cycle is skipped without sending
	dispatcher.running.Store(true)
	require.NoError(t, dispatcher.RunCycle(context.Background()))
	assert.Empty(t, notifier.sentTo("c1"))
	dispatcher.running.Store(false)

	require.NoError(t, dispatcher.RunCycle(context.Background()))
	assert.Len(t, notifier.sentTo("c1"), 1)
}

func TestDispatcherEmbedChunking(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	queries := NewUndeliveredQuery(gdb, nil)
	ledger := NewDeliveryLedger(writeDB, nil)
	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newObservationStrategy(queries, 7*24*time.Hour, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)
	ctx := context.Background()

	loc := seedLocation(
		t, gdb, Location{
			LocID:      "L1",
			RegionCode: "US-NY",
			CountyCode: "US-NY-109",
		},
	)
	// 12 species at one location: 12 buckets, so two messages (10 + 2)
	species := []string{
		"sp01", "sp02", "sp03", "sp04", "sp05", "sp06",
		"sp07", "sp08", "sp09", "sp10", "sp11", "sp12",
	}
	for i, sp := range species {
		seedObservation(
			t, gdb, Observation{
				SpeciesCode: sp,
				CommonName:  "Bird " + sp,
				SubID:       "S" + sp,
				LocID:       loc.LocID,
				ObsDt:       obsTimestamp(-time.Duration(i+1) * time.Minute),
			},
		)
	}
	seedSubscription(
		t, gdb, "c1",
		RegionScope{Region: "US-NY", Subregion: SubregionWildcard},
	)

	require.NoError(t, dispatcher.RunCycle(ctx))
	messages := notifier.sentTo("c1")
	require.Len(t, messages, 2)
	assert.Len(t, messages[0].Embeds, discordMaxEmbedsPerMessage)
	assert.Len(t, messages[1].Embeds, 2)
}

func TestFeedDispatch(t *testing.T) {
	writeDB, gdb := newTestDB(t)
	queries := NewUndeliveredQuery(gdb, nil)
	ledger := NewDeliveryLedger(writeDB, nil)
	notifier := newRecordingNotifier()
	dispatcher := NewDispatcher(
		newFeedStrategy(queries, nil),
		ledger,
		notifier,
		24*time.Hour,
		nil,
	)
	ctx := context.Background()

	item := FeedItem{
		GUID:      "g1",
		Source:    "rba",
		Title:     "Rare Bird Alert",
		Link:      "https://example.com/rba/1",
		TitleKey:  "rare bird alert",
		Published: "2026-08-20T10:00:00Z",
	}
	require.NoError(t, gdb.Create(&item).Error)
	require.NoError(
		t,
		gdb.Create(
			&FeedSubscription{ChannelID: "c1", Source: "rba", Active: true},
		).Error,
	)

	require.NoError(t, dispatcher.RunCycle(ctx))
	messages := notifier.sentTo("c1")
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Embeds, 1)
	assert.Equal(t, "Rare Bird Alert", messages[0].Embeds[0].Title)

	delivered, err := ledger.Exists(ctx, KindFeedItem, "g1", "c1")
	require.NoError(t, err)
	assert.True(t, delivered)

	require.NoError(t, dispatcher.RunCycle(ctx))
	assert.Len(t, notifier.sentTo("c1"), 1)
}
