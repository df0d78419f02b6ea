package hubrunner

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hueartnet/bridge/internal/bridgeerr"
	"github.com/hueartnet/bridge/internal/huectl"
	"github.com/hueartnet/bridge/internal/models"
	"github.com/hueartnet/bridge/internal/streaming"
)

const configID = "11111111-2222-3333-4444-555555555555"

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func testHub() models.HubConfig {
	return models.HubConfig{
		ID:                           "hub-1",
		Host:                         "10.0.0.5",
		Username:                     "u",
		ClientKey:                    "deadbeef",
		EntertainmentConfigurationID: configID,
		ArtNetUniverse:               0,
		Channels: []models.ChannelMapping{
			{ChannelID: 0, DMXStart: 1, ChannelMode: models.ChannelMode8Bit},
			{ChannelID: 1, DMXStart: 4, ChannelMode: models.ChannelMode8Bit},
		},
	}
}

type fakeHueClient struct {
	configs       []huectl.EntertainmentConfiguration
	listErr       error
	resolveErr    error
	startErr      error
	stopErr       error
	startCalls    int
	stopCalls     int
}

func (f *fakeHueClient) ResolveApplicationID() (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return "app-identity", nil
}

func (f *fakeHueClient) ListEntertainmentConfigurations() ([]huectl.EntertainmentConfiguration, error) {
	return f.configs, f.listErr
}

func (f *fakeHueClient) StartEntertainmentConfiguration(id string) error {
	f.startCalls++
	return f.startErr
}

func (f *fakeHueClient) StopEntertainmentConfiguration(id string) error {
	f.stopCalls++
	return f.stopErr
}

type fakeController struct {
	connectErr error
	state      streaming.State
	sends      []models.ColorUpdate
	nextResult streaming.SendResult
	closeCalls int
}

func (f *fakeController) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = streaming.StateOpen
	return nil
}

func (f *fakeController) SendUpdate(updates []models.ColorUpdate) streaming.SendResult {
	f.sends = append(f.sends, updates...)
	if f.nextResult == "" {
		return streaming.SendResultSent
	}
	return f.nextResult
}

func (f *fakeController) Close() error {
	f.closeCalls++
	f.state = streaming.StateClosed
	return nil
}

func (f *fakeController) State() streaming.State {
	return f.state
}

func newRunner(t *testing.T, client *fakeHueClient, controller *fakeController) *Runner {
	t.Helper()
	r := New(testLogger(), testHub(), client, func(pskIdentity string, pskSecret []byte) StreamController {
		assert.Equal(t, "app-identity", pskIdentity)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, pskSecret)
		return controller
	})
	r.sleepBeforeConnect = func() {}
	return r
}

func Test_Runner_Start(t *testing.T) {
	t.Run("validates channel set equality, connects and arms every channel black", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{
			{ID: configID, ChannelIDs: []int{0, 1}},
		}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)

		connected := false
		r.OnConnected = func() { connected = true }

		streamingEnabled := false
		r.OnStreamingEnabled = func() { streamingEnabled = true }

		err := r.Start(context.Background())

		require.NoError(t, err)
		assert.True(t, connected)
		assert.True(t, streamingEnabled)
		assert.Equal(t, 1, client.startCalls)
		require.Len(t, controller.sends, 2)
		assert.Equal(t, [3]uint16{0, 0, 0}, controller.sends[0].RGB16)
	})

	t.Run("fails with ConfigMismatch when the remote config is missing a configured channel", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{
			{ID: configID, ChannelIDs: []int{0}},
		}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)

		var gotKind bridgeerr.Kind
		r.OnError = func(kind bridgeerr.Kind, err error) { gotKind = kind }

		err := r.Start(context.Background())

		require.Error(t, err)
		assert.Equal(t, bridgeerr.ConfigMismatch, gotKind)
		assert.Equal(t, 0, client.startCalls)
	})

	t.Run("fails with ConfigMismatch when the configured entertainment configuration id is not on the bridge", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{
			{ID: "some-other-id", ChannelIDs: []int{0, 1}},
		}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)

		err := r.Start(context.Background())

		require.Error(t, err)
		kind, ok := bridgeerr.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, bridgeerr.ConfigMismatch, kind)
	})

	t.Run("stops the remote config when the DTLS handshake fails after start", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{
			{ID: configID, ChannelIDs: []int{0, 1}},
		}}
		controller := &fakeController{connectErr: errors.New("handshake timed out")}
		r := newRunner(t, client, controller)

		streamingDisabled := false
		r.OnStreamingDisabled = func() { streamingDisabled = true }

		err := r.Start(context.Background())

		require.Error(t, err)
		assert.Equal(t, 1, client.stopCalls)
		assert.True(t, streamingDisabled)
	})
}

func Test_Runner_HandleFrame(t *testing.T) {
	t.Run("ignores frames on a different universe", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{{ID: configID, ChannelIDs: []int{0, 1}}}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)
		require.NoError(t, r.Start(context.Background()))
		controller.sends = nil

		matched := 0
		r.OnMatchedFrame = func() { matched++ }

		r.HandleFrame(models.ArtNetFrame{Universe: 7, Data: []byte{1, 2, 3}})

		assert.Empty(t, controller.sends)
		assert.Equal(t, 0, matched)
	})

	t.Run("decodes and forwards a matching-universe frame, counting the result", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{{ID: configID, ChannelIDs: []int{0, 1}}}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)
		require.NoError(t, r.Start(context.Background()))
		controller.sends = nil

		sent := 0
		matched := 0
		var gotUpdates []models.ColorUpdate
		r.OnSent = func(updates []models.ColorUpdate) {
			sent++
			gotUpdates = updates
		}
		r.OnMatchedFrame = func() { matched++ }

		r.HandleFrame(models.ArtNetFrame{Universe: 0, Data: []byte{0xFF, 0x00, 0x10, 0x80, 0x40, 0x20}})

		require.Len(t, controller.sends, 2)
		assert.Equal(t, 1, sent)
		assert.Equal(t, 1, matched)
		assert.Len(t, gotUpdates, 2)
	})
}

func Test_Runner_Stop(t *testing.T) {
	t.Run("closes the controller and stops the remote config once", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{configs: []huectl.EntertainmentConfiguration{{ID: configID, ChannelIDs: []int{0, 1}}}}
		controller := &fakeController{}
		r := newRunner(t, client, controller)
		require.NoError(t, r.Start(context.Background()))

		closed := false
		streamingDisabled := false
		r.OnClosed = func() { closed = true }
		r.OnStreamingDisabled = func() { streamingDisabled = true }

		require.NoError(t, r.Stop())

		assert.True(t, closed)
		assert.True(t, streamingDisabled)
		assert.Equal(t, 1, controller.closeCalls)
		assert.Equal(t, 1, client.stopCalls)
	})

	t.Run("is a no-op when the runner never started", func(t *testing.T) {
		t.Parallel()
		client := &fakeHueClient{}
		controller := &fakeController{}
		r := newRunner(t, client, controller)

		require.NoError(t, r.Stop())
		assert.Equal(t, 0, controller.closeCalls)
	})
}
