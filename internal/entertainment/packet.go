// Package entertainment encodes Hue Entertainment streaming update
// packets (spec §4.2). Layout and byte order mirror the Art-Net header
// packing in bbernstein-lacylights-go/packet.go, adapted to the fixed
// HueStream v2 wire format.
package entertainment

import (
	"encoding/binary"
	"fmt"

	"github.com/hueartnet/bridge/internal/constants"
	"github.com/hueartnet/bridge/internal/models"
)

// Encode builds the wire bytes for one streaming update packet carrying
// updates, in the order given, against entertainment configuration
// configUUID (36 ASCII chars).
func Encode(configUUID string, updates []models.ColorUpdate) ([]byte, error) {
	if len(configUUID) != constants.PacketUUIDLength {
		return nil, fmt.Errorf("entertainment: configUUID must be %d chars, got %d", constants.PacketUUIDLength, len(configUUID))
	}

	packet := make([]byte, constants.PacketHeaderLength+constants.PacketRecordLength*len(updates))

	copy(packet[0:9], constants.PacketMagic)
	packet[9] = constants.PacketMajorVersion
	packet[10] = constants.PacketMinorVersion
	packet[11] = 0x00 // sequence, unused
	packet[12] = 0x00
	packet[13] = 0x00
	packet[14] = constants.PacketColorSpaceRGB
	packet[15] = 0x00
	copy(packet[16:16+constants.PacketUUIDLength], configUUID)

	offset := constants.PacketHeaderLength
	for _, u := range updates {
		packet[offset] = byte(u.ChannelID)
		binary.BigEndian.PutUint16(packet[offset+1:offset+3], u.RGB16[0])
		binary.BigEndian.PutUint16(packet[offset+3:offset+5], u.RGB16[1])
		binary.BigEndian.PutUint16(packet[offset+5:offset+7], u.RGB16[2])
		offset += constants.PacketRecordLength
	}

	return packet, nil
}

// Decode is the encoder's inverse, used by tests to assert the §8
// round-trip property. It is not used on any production send path.
func Decode(packet []byte) (configUUID string, updates []models.ColorUpdate, err error) {
	if len(packet) < constants.PacketHeaderLength {
		return "", nil, fmt.Errorf("entertainment: packet too short: %d bytes", len(packet))
	}
	if string(packet[0:9]) != constants.PacketMagic {
		return "", nil, fmt.Errorf("entertainment: bad magic")
	}
	configUUID = string(packet[16 : 16+constants.PacketUUIDLength])

	body := packet[constants.PacketHeaderLength:]
	if len(body)%constants.PacketRecordLength != 0 {
		return "", nil, fmt.Errorf("entertainment: trailing bytes in record section")
	}
	n := len(body) / constants.PacketRecordLength
	updates = make([]models.ColorUpdate, n)
	for i := 0; i < n; i++ {
		rec := body[i*constants.PacketRecordLength : (i+1)*constants.PacketRecordLength]
		updates[i] = models.ColorUpdate{
			ChannelID: int(rec[0]),
			RGB16: [3]uint16{
				binary.BigEndian.Uint16(rec[1:3]),
				binary.BigEndian.Uint16(rec[3:5]),
				binary.BigEndian.Uint16(rec[5:7]),
			},
		}
	}
	return configUUID, updates, nil
}
