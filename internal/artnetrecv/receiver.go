// Package artnetrecv binds UDP:6454 and parses inbound Art-Net ArtDmx
// frames (spec §4.6). The read loop follows the Art-Net
// component shape (a single owned socket, a background goroutine, a
// fan-out channel) seen in Haba1234-artnet2mqtt/internal/artnet, with
// the wire layout (8-byte "Art-Net\0" ID, little-endian OpCode,
// little-endian universe) taken from
// bbernstein-lacylights-go/packet.go's BuildDMXPacket, inverted for
// parsing instead of building.
package artnetrecv

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hueartnet/bridge/internal/constants"
	"github.com/hueartnet/bridge/internal/models"
)

// minArtDMXLength is ID(8) + OpCode(2) + ProtVerHi/Lo(2) + Sequence(1) +
// Physical(1) + Universe(2) + Length(2).
const minArtDMXLength = 18

// Subscriber receives every parsed ArtDmx frame, regardless of universe;
// each Hub Runner filters by its own configured universe.
type Subscriber func(models.ArtNetFrame)

// Receiver owns the single UDP:6454 socket for the process. Only one
// Receiver instance exists per process (spec §4.6); it fans the same
// frame out to every subscriber.
type Receiver struct {
	logger      *log.Logger
	bindAddr    string
	conn        *net.UDPConn
	onMalformed func()
	onFrame     func(models.ArtNetFrame)

	mu          sync.RWMutex
	subscribers []Subscriber
}

// New constructs a Receiver bound to bindAddr (empty string means the
// unspecified address, the default per spec §4.6).
func New(logger *log.Logger, bindAddr string) *Receiver {
	return &Receiver{logger: logger, bindAddr: bindAddr}
}

// Subscribe registers fn to receive every parsed frame. Must be called
// before Start.
func (r *Receiver) Subscribe(fn Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// OnMalformed, if set, is invoked once per dropped malformed datagram —
// wired to Runtime Status's counters.
func (r *Receiver) OnMalformed(fn func()) {
	r.onMalformed = fn
}

// OnFrame, if set, is invoked once per well-formed ArtDmx frame, before
// it is fanned out to subscribers — wired to Runtime Status's
// per-receiver counters.
func (r *Receiver) OnFrame(fn func(models.ArtNetFrame)) {
	r.onFrame = fn
}

// Start binds the socket and begins the read loop in a background
// goroutine. It returns once the socket is bound so callers can rely on
// frames arriving immediately after Start returns.
func (r *Receiver) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(r.bindAddr), Port: constants.ArtNetPort}
	if r.bindAddr == "" {
		addr.IP = net.IPv4zero
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("artnetrecv: binding udp %s:%d: %w", r.bindAddr, constants.ArtNetPort, err)
	}
	r.conn = conn

	r.logger.Info("Art-Net receiver listening", "bind", conn.LocalAddr())

	go r.readLoop(ctx)
	return nil
}

// Stop closes the socket, unblocking the read loop.
func (r *Receiver) Stop() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// BindAddress returns the address the socket is bound to, for status
// reporting.
func (r *Receiver) BindAddress() string {
	if r.conn == nil {
		return r.bindAddr
	}
	return r.conn.LocalAddr().String()
}

func (r *Receiver) readLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Debug("Art-Net receiver read error", "err", err)
			continue
		}

		frame, ok := parseArtDMX(buf[:n])
		if !ok {
			r.logger.Debug("dropped malformed Art-Net datagram", "bytes", n)
			if r.onMalformed != nil {
				r.onMalformed()
			}
			continue
		}

		if r.onFrame != nil {
			r.onFrame(frame)
		}
		r.broadcast(frame)
	}
}

func (r *Receiver) broadcast(frame models.ArtNetFrame) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		sub(frame)
	}
}

// parseArtDMX decodes a raw datagram into an ArtNetFrame, returning
// ok=false for anything that isn't a well-formed ArtDmx packet — wrong
// ID, wrong opcode, or too short (spec §4.6).
func parseArtDMX(data []byte) (models.ArtNetFrame, bool) {
	if len(data) < minArtDMXLength {
		return models.ArtNetFrame{}, false
	}
	if string(data[0:8]) != constants.ArtNetID {
		return models.ArtNetFrame{}, false
	}
	opCode := binary.LittleEndian.Uint16(data[8:10])
	if opCode != constants.ArtDMXOpCode {
		return models.ArtNetFrame{}, false
	}

	sequence := data[12]
	universe := int(binary.LittleEndian.Uint16(data[14:16]))
	length := int(binary.BigEndian.Uint16(data[16:18]))

	dataStart := 18
	dataEnd := dataStart + length
	if dataEnd > len(data) {
		dataEnd = len(data)
	}

	dmx := make([]byte, dataEnd-dataStart)
	copy(dmx, data[dataStart:dataEnd])

	return models.ArtNetFrame{
		Universe: universe,
		Sequence: sequence,
		Data:     dmx,
	}, true
}
