package coordinator_test

import (
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hueartnet/bridge/internal/coordinator"
	"github.com/hueartnet/bridge/internal/models"
	"github.com/hueartnet/bridge/internal/status"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})
}

func validHub(id string) models.HubConfig {
	return models.HubConfig{
		ID:                           id,
		Host:                         "10.0.0.5",
		Username:                     "u",
		ClientKey:                    "deadbeef",
		EntertainmentConfigurationID: "11111111-2222-3333-4444-555555555555",
		Channels:                     []models.ChannelMapping{{ChannelID: 0, DMXStart: 1, ChannelMode: models.ChannelMode8Bit}},
	}
}

func Test_New(t *testing.T) {
	t.Run("builds one runner per valid hub", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())

		c, err := coordinator.New(testLogger(), "", []models.HubConfig{validHub("hub-1"), validHub("hub-2")}, tracker)

		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"hub-1", "hub-2"}, c.HubIDs())
	})

	t.Run("skips a hub with invalid config and keeps the valid ones", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())
		invalid := validHub("hub-bad")
		invalid.ClientKey = ""

		c, err := coordinator.New(testLogger(), "", []models.HubConfig{validHub("hub-1"), invalid}, tracker)

		require.NoError(t, err)
		assert.Equal(t, []string{"hub-1"}, c.HubIDs())
	})

	t.Run("fails when every hub has an invalid config", func(t *testing.T) {
		t.Parallel()
		tracker := status.NewTracker(testLogger())
		invalid := validHub("hub-bad")
		invalid.ClientKey = ""

		_, err := coordinator.New(testLogger(), "", []models.HubConfig{invalid}, tracker)

		assert.Error(t, err)
	})
}
