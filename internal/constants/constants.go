// Package constants collects the fixed protocol and timing values named
// throughout the spec, the same way the teacher centralizes its magic
// numbers in internal/constants.
package constants

import "time"

// Art-Net ingress (spec §4.6, §6).
const (
	ArtNetPort      = 6454
	ArtNetID        = "Art-Net\x00"
	ArtDMXOpCode    = uint16(0x5000)
	DMXUniverseSize = 512
)

// Hue Entertainment egress (spec §4.3, §6).
const (
	EntertainmentUDPPort = 2100
	HandshakeRetransmits = 4
)

// Send cadence (spec §4.3).
const (
	DefaultMinSendInterval = 40 * time.Millisecond
	KeepaliveTick          = 1 * time.Second
	KeepaliveStaleAfter    = 2 * time.Second
)

// Hub Runner lifecycle (spec §4.5).
const (
	PreHandshakeDelay = 1 * time.Second
	DTLSCloseGrace    = 2 * time.Second
)

// Entertainment packet wire layout (spec §4.2).
const (
	PacketMagic         = "HueStream"
	PacketMajorVersion  = 0x02
	PacketMinorVersion  = 0x00
	PacketColorSpaceRGB = 0x00
	PacketUUIDLength    = 36
	PacketHeaderLength  = 16 + PacketUUIDLength // 52
	PacketRecordLength  = 7
)
