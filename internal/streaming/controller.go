// Package streaming implements the DTLS-PSK streaming controller (spec
// §4.3): one secure session to one hub, sending Hue Entertainment
// update packets at up to 25 Hz with a keepalive fallback. Event
// delivery follows the teacher's callback-registration idiom
// (hue.HueEventConsumer's OnConnect/OnDisconnect), generalized to the
// connected/close/error trio spec §4.3 requires.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hueartnet/bridge/internal/bridgeerr"
	"github.com/hueartnet/bridge/internal/constants"
	"github.com/hueartnet/bridge/internal/entertainment"
	"github.com/hueartnet/bridge/internal/models"
)

// State is one of the four DTLS session states from spec §4.3.
type State string

const (
	StateIdle        State = "Idle"
	StateHandshaking State = "Handshaking"
	StateOpen        State = "Open"
	StateClosed      State = "Closed"
)

// SendResult is the outcome of one sendUpdate call.
type SendResult string

const (
	SendResultSent      SendResult = "sent"
	SendResultNotOpen   SendResult = "not_open"
	SendResultThrottled SendResult = "throttled"
	SendResultSkipped   SendResult = "skipped"
)

type dialFunc func(ctx context.Context, host string, pskIdentity string, pskSecret []byte) (secureConn, error)

// Controller drives one DTLS-PSK session to one hub.
type Controller struct {
	logger      *log.Logger
	host        string
	pskIdentity string
	pskSecret   []byte
	configUUID  string

	minInterval      time.Duration
	rateHalveEnabled bool
	dial             dialFunc

	// OnConnected, OnClose and OnError are callback registrations a
	// caller sets before calling Connect, mirroring the teacher's sse
	// client OnConnect/OnDisconnect hooks. hubrunner.Runner does not set
	// them, so a transport loss after Open is not reported to it through
	// these hooks.
	OnConnected func()
	OnClose     func()
	OnError     func(kind bridgeerr.Kind, err error)

	mu               sync.Mutex
	state            State
	conn             secureConn
	lastPacketSentAt time.Time
	lastServicedAt   time.Time
	lastKnownPacket  []byte
	skipNext         bool

	keepaliveCancel context.CancelFunc
	keepaliveDone   chan struct{}
}

// New constructs a Controller in the Idle state.
func New(logger *log.Logger, host string, pskIdentity string, pskSecret []byte, configUUID string) *Controller {
	return &Controller{
		logger:      logger,
		host:        host,
		pskIdentity: pskIdentity,
		pskSecret:   pskSecret,
		configUUID:  configUUID,
		minInterval: constants.DefaultMinSendInterval,
		dial:        dialPSKDTLS,
		state:       StateIdle,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetRateHalving toggles the "skip every other packet" policy hook from
// spec §9. It defaults to off; enabling it halves the effective update
// rate.
func (c *Controller) SetRateHalving(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateHalveEnabled = enabled
}

// Connect performs the DTLS handshake and, on success, transitions to
// Open and starts the keepalive ticker (spec §4.3).
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateHandshaking
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.host, c.pskIdentity, c.pskSecret)
	if err != nil {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.emitError(bridgeerr.DtlsHandshakeFailure, err)
		c.emitClose()
		return bridgeerr.Wrap(bridgeerr.DtlsHandshakeFailure, "DTLS handshake to "+c.host, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.keepaliveCancel = cancel
	c.keepaliveDone = make(chan struct{})
	c.mu.Unlock()

	go c.runKeepalive(kaCtx)

	if c.OnConnected != nil {
		c.OnConnected()
	}
	return nil
}

// SendUpdate encodes updates into one streaming packet and attempts to
// send it, subject to the throttle policy (spec §4.3).
func (c *Controller) SendUpdate(updates []models.ColorUpdate) SendResult {
	packet, err := entertainment.Encode(c.configUUID, updates)
	if err != nil {
		c.logger.Error("failed to encode entertainment packet", "err", err)
		return SendResultNotOpen
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastServicedAt = time.Now()
	c.lastKnownPacket = packet

	if c.state != StateOpen {
		return SendResultNotOpen
	}

	if c.rateHalveEnabled {
		c.skipNext = !c.skipNext
		if c.skipNext {
			return SendResultSkipped
		}
	}

	now := time.Now()
	if !c.lastPacketSentAt.IsZero() && now.Sub(c.lastPacketSentAt) < c.minInterval {
		return SendResultThrottled
	}

	if err := c.writeLocked(packet); err != nil {
		return SendResultNotOpen
	}
	c.lastPacketSentAt = now
	return SendResultSent
}

// writeLocked writes to the transport and, on failure, tears the
// session down as a TransportLoss. Caller must hold c.mu.
func (c *Controller) writeLocked(packet []byte) error {
	_, err := c.conn.Write(packet)
	if err != nil {
		c.state = StateClosed
		conn := c.conn
		c.conn = nil
		if c.keepaliveCancel != nil {
			c.keepaliveCancel()
		}
		go func() {
			if conn != nil {
				conn.Close()
			}
			c.emitError(bridgeerr.TransportLoss, err)
			c.emitClose()
		}()
	}
	return err
}

// Close tears the session down. Idempotent: closing an already-closed
// controller is a no-op. Closing a controller that never connected
// still moves it to Closed and emits close.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	cancel := c.keepaliveCancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.emitClose()
	return err
}

// runKeepalive resends the last-known packet, bypassing the throttle
// gate, whenever no sendUpdate attempt has been serviced for more than
// KeepaliveStaleAfter while Open (spec §4.3). It stops as soon as the
// controller leaves Open.
func (c *Controller) runKeepalive(ctx context.Context) {
	ticker := time.NewTicker(constants.KeepaliveTick)
	defer ticker.Stop()
	defer close(c.keepaliveDone)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.keepaliveTick()
		}
	}
}

func (c *Controller) keepaliveTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return
	}
	if c.lastKnownPacket == nil {
		return
	}
	if time.Since(c.lastServicedAt) <= constants.KeepaliveStaleAfter {
		return
	}

	packet := c.lastKnownPacket
	if err := c.writeLocked(packet); err == nil {
		c.lastPacketSentAt = time.Now()
	}
}

func (c *Controller) emitClose() {
	if c.OnClose != nil {
		c.OnClose()
	}
}

func (c *Controller) emitError(kind bridgeerr.Kind, err error) {
	if c.OnError != nil {
		c.OnError(kind, err)
	}
}
