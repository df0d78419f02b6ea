package streaming

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/dtls/v2"

	"github.com/hueartnet/bridge/internal/constants"
)

// secureConn is the minimal surface the Controller needs from a
// transport connection. Isolating it behind an interface (rather than
// depending on *dtls.Conn directly) keeps the throttle/keepalive/state
// machine logic in controller.go unit-testable against a fake, per
// SPEC_FULL.md's C3 note.
type secureConn interface {
	Write(p []byte) (int, error)
	Close() error
}

// dialPSKDTLS performs the PSK-DTLS handshake to a hub's Entertainment
// streaming port. The handshake is bounded only by the caller's ctx,
// which is passed through unchanged; no retransmission count
// (constants.HandshakeRetransmits) is applied, and pion/dtls retries
// flights internally for the lifetime of the dial context.
func dialPSKDTLS(ctx context.Context, host string, pskIdentity string, pskSecret []byte) (secureConn, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, constants.EntertainmentUDPPort))
	if err != nil {
		return nil, fmt.Errorf("resolving hub streaming address: %w", err)
	}

	cfg := &dtls.Config{
		PSK: func(hint []byte) ([]byte, error) {
			return pskSecret, nil
		},
		PSKIdentityHint: []byte(pskIdentity),
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}

	conn, err := dtls.DialWithContext(ctx, "udp", addr, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
