package channel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hueartnet/bridge/internal/channel"
	"github.com/hueartnet/bridge/internal/models"
)

func Test_Decode_8bit(t *testing.T) {
	t.Run("solid red", func(t *testing.T) {
		t.Parallel()
		// arrange
		mapping := models.ChannelMapping{ChannelID: 0, DMXStart: 1, ChannelMode: models.ChannelMode8Bit}
		data := []byte{0xFF, 0x00, 0x00}

		// act
		update := channel.Decode(mapping, data)

		// assert
		assert.Equal(t, 0, update.ChannelID)
		assert.Equal(t, [3]uint16{0xFFFF, 0x0000, 0x0000}, update.RGB16)
	})

	for v := 0; v <= 255; v++ {
		v := v
		t.Run("identity scaling", func(t *testing.T) {
			t.Parallel()
			mapping := models.ChannelMapping{ChannelID: 1, DMXStart: 1, ChannelMode: models.ChannelMode8Bit}
			update := channel.Decode(mapping, []byte{byte(v), byte(v), byte(v)})
			expected := uint16(v * 257)
			assert.Equal(t, [3]uint16{expected, expected, expected}, update.RGB16)
		})
	}
}

func Test_Decode_8bitDimmable(t *testing.T) {
	t.Run("dimmed green", func(t *testing.T) {
		t.Parallel()
		// arrange: dmxStart=5, slots 5..8 = dim=0x80, R=0x00, G=0xFF, B=0x00
		mapping := models.ChannelMapping{ChannelID: 3, DMXStart: 5, ChannelMode: models.ChannelMode8BitDimmable}
		data := make([]byte, 8)
		data[4] = 0x80
		data[5] = 0x00
		data[6] = 0xFF
		data[7] = 0x00

		// act
		update := channel.Decode(mapping, data)

		// assert
		assert.Equal(t, 3, update.ChannelID)
		assert.InDelta(t, 0, int(update.RGB16[0]), 1)
		// (0xFF * 0x80 * 257 * 257) / 65535 = 32896 exactly.
		assert.InDelta(t, 32896, int(update.RGB16[1]), 1)
		assert.InDelta(t, 0, int(update.RGB16[2]), 1)
	})
}

func Test_Decode_16bit(t *testing.T) {
	t.Run("blue only", func(t *testing.T) {
		t.Parallel()
		mapping := models.ChannelMapping{ChannelID: 7, DMXStart: 100, ChannelMode: models.ChannelMode16Bit}
		data := make([]byte, 105)
		data[103] = 0x12
		data[104] = 0x34

		update := channel.Decode(mapping, data)

		assert.Equal(t, [3]uint16{0, 0, 0x1234}, update.RGB16)
	})
}

func Test_Decode_truncatedBuffer(t *testing.T) {
	t.Run("missing bytes treated as zero", func(t *testing.T) {
		t.Parallel()
		mapping := models.ChannelMapping{ChannelID: 0, DMXStart: 1, ChannelMode: models.ChannelMode16Bit}
		update := channel.Decode(mapping, []byte{0x01})

		assert.Equal(t, [3]uint16{0x0100, 0, 0}, update.RGB16)
	})
}

func Test_Width(t *testing.T) {
	cases := map[models.ChannelMode]int{
		models.ChannelMode8Bit:         3,
		models.ChannelMode8BitDimmable: 4,
		models.ChannelMode16Bit:        6,
	}
	for mode, want := range cases {
		assert.Equal(t, want, channel.Width(models.ChannelMapping{ChannelMode: mode}))
	}
}
