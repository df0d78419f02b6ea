package status_test

import (
	"errors"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hueartnet/bridge/internal/models"
	"github.com/hueartnet/bridge/internal/status"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func Test_Tracker_ReceiverCounters(t *testing.T) {
	t.Run("accumulates frames by universe and malformed count", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())
		tracker.BindReceiver("0.0.0.0:6454")

		tracker.RecordFrame(0)
		tracker.RecordFrame(0)
		tracker.RecordFrame(3)
		tracker.RecordMalformed()

		snap := tracker.Snapshot()

		assert.Equal(t, "0.0.0.0:6454", snap.Receiver.BindAddress)
		assert.Equal(t, uint64(3), snap.Receiver.FramesTotal)
		assert.Equal(t, uint64(1), snap.Receiver.MalformedTotal)
		assert.Equal(t, uint64(2), snap.Receiver.FramesByUniverse[0])
		assert.Equal(t, uint64(1), snap.Receiver.FramesByUniverse[3])
		assert.False(t, snap.Receiver.LastFrameAt.IsZero())
	})
}

func Test_Tracker_HubLifecycle(t *testing.T) {
	t.Run("tracks started/closed and records the last light color sent", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())

		tracker.HubStreamingEnabled("hub-1")
		tracker.HubStarted("hub-1")
		tracker.RecordMatchedFrame("hub-1")
		tracker.RecordSent("hub-1", []models.ColorUpdate{{ChannelID: 0, RGB16: [3]uint16{100, 200, 300}}})
		tracker.RecordThrottled("hub-1")
		tracker.RecordDropped("hub-1")
		tracker.RecordError("hub-1", errors.New("transport loss"))

		snap := tracker.Snapshot()
		hub, ok := snap.Hubs["hub-1"]
		require.True(t, ok)

		assert.True(t, hub.Started)
		assert.True(t, hub.StreamingEnabled)
		assert.True(t, hub.DTLSConnected)
		assert.Equal(t, uint64(1), hub.FramesMatched)
		assert.False(t, hub.LastDMXAt.IsZero())
		assert.Equal(t, uint64(1), hub.PacketsSent)
		assert.Equal(t, uint64(1), hub.PacketsThrottled)
		assert.Equal(t, uint64(1), hub.PacketsDropped)
		assert.Equal(t, "transport loss", hub.LastError)
		light, ok := hub.Lights[0]
		require.True(t, ok)
		assert.Equal(t, [3]uint16{100, 200, 300}, light.RGB16)

		tracker.HubClosed("hub-1")
		tracker.HubStreamingDisabled("hub-1")
		snap = tracker.Snapshot()
		assert.False(t, snap.Hubs["hub-1"].DTLSConnected)
		assert.False(t, snap.Hubs["hub-1"].StreamingEnabled)
	})
}

func Test_Tracker_Snapshot_isADeepCopy(t *testing.T) {
	t.Run("mutating a returned snapshot does not affect the tracker's state", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())
		tracker.HubStarted("hub-1")
		tracker.RecordSent("hub-1", []models.ColorUpdate{{ChannelID: 0}})

		snap := tracker.Snapshot()
		snap.Hubs["hub-1"].Lights[0] = status.LightSnapshot{RGB16: [3]uint16{9, 9, 9}}
		delete(snap.Hubs, "hub-1")

		second := tracker.Snapshot()
		_, stillPresent := second.Hubs["hub-1"]
		assert.True(t, stillPresent)
	})
}
