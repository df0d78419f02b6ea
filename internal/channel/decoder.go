// Package channel decodes a slice of DMX bytes into a 16-bit RGB triple
// according to a ChannelMapping's mode (spec §4.1).
package channel

import "github.com/hueartnet/bridge/internal/models"

// Decode reads mapping.Width() bytes from data starting at
// mapping.DMXStart-1 (DMXStart is 1-indexed) and returns the decoded
// ColorUpdate. A data buffer shorter than the mapping's window is
// zero-padded, never out of bounds.
func Decode(mapping models.ChannelMapping, data []byte) models.ColorUpdate {
	offset := mapping.DMXStart - 1

	slot := func(i int) byte {
		idx := offset + i
		if idx < 0 || idx >= len(data) {
			return 0
		}
		return data[idx]
	}

	var rgb [3]uint16
	switch mapping.ChannelMode {
	case models.ChannelMode8Bit:
		rgb[0] = expand8(slot(0))
		rgb[1] = expand8(slot(1))
		rgb[2] = expand8(slot(2))

	case models.ChannelMode8BitDimmable:
		dim := slot(0)
		rgb[0] = scaleByDimmer(slot(1), dim)
		rgb[1] = scaleByDimmer(slot(2), dim)
		rgb[2] = scaleByDimmer(slot(3), dim)

	case models.ChannelMode16Bit:
		rgb[0] = combine16(slot(0), slot(1))
		rgb[1] = combine16(slot(2), slot(3))
		rgb[2] = combine16(slot(4), slot(5))

	default:
		// unrecognized mode decodes to black; config validation is
		// responsible for rejecting this before a runner ever starts.
	}

	return models.ColorUpdate{ChannelID: mapping.ChannelID, RGB16: rgb}
}

// expand8 maps 0..255 to 0..65535 with byte-duplicated spacing
// (v * 0x0101), so 0x00 -> 0x0000 and 0xFF -> 0xFFFF.
func expand8(v byte) uint16 {
	return uint16(v) * 257
}

// scaleByDimmer applies an 8-bit dimmer to an 8-bit channel and expands
// the result to 16 bits: X16 = (X * Dim * 257 * 257) / 65535, truncated.
func scaleByDimmer(v byte, dim byte) uint16 {
	product := uint32(v) * uint32(dim) * 257 * 257
	scaled := product / 65535
	if scaled > 65535 {
		scaled = 65535
	}
	return uint16(scaled)
}

func combine16(hi byte, lo byte) uint16 {
	return uint16(hi)<<8 | uint16(lo)
}

// Width returns the number of DMX slots mapping.ChannelMode consumes.
func Width(mapping models.ChannelMapping) int {
	return mapping.ChannelMode.Width()
}
