// Package hubrunner drives one hub end to end: verifying its remote
// entertainment configuration, holding the DTLS streaming session
// open, and turning subscribed Art-Net frames into streaming updates
// (spec §4.5). The lifecycle and callback-registration shape mirror
// the teacher's hugh.Hugh, which owns one light-control loop the same
// way a Runner owns one hub.
package hubrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/hueartnet/bridge/internal/bridgeerr"
	"github.com/hueartnet/bridge/internal/channel"
	"github.com/hueartnet/bridge/internal/config"
	"github.com/hueartnet/bridge/internal/constants"
	"github.com/hueartnet/bridge/internal/huectl"
	"github.com/hueartnet/bridge/internal/models"
	"github.com/hueartnet/bridge/internal/streaming"
)

// HueClient is the subset of *huectl.Client a Runner depends on, kept
// as an interface so tests can substitute a fake control-plane.
type HueClient interface {
	ResolveApplicationID() (string, error)
	ListEntertainmentConfigurations() ([]huectl.EntertainmentConfiguration, error)
	StartEntertainmentConfiguration(id string) error
	StopEntertainmentConfiguration(id string) error
}

// StreamController is the subset of *streaming.Controller a Runner
// depends on.
type StreamController interface {
	Connect(ctx context.Context) error
	SendUpdate(updates []models.ColorUpdate) streaming.SendResult
	Close() error
	State() streaming.State
}

// Runner drives one hub's full lifecycle: start -> stream -> stop.
type Runner struct {
	logger *log.Logger
	hub    models.HubConfig
	client HueClient

	newController func(pskIdentity string, pskSecret []byte) StreamController

	// sleepBeforeConnect stands in for the §4.5 pre-handshake delay.
	// Tests override it to skip the real 1s wait.
	sleepBeforeConnect func()

	// OnSent, OnThrottled, OnDropped and OnError are wired by the
	// Coordinator/status layer to observe per-hub counters, mirroring
	// the Controller's own callback fields.
	OnSent              func(updates []models.ColorUpdate)
	OnThrottled         func()
	OnDropped           func()
	OnConnected         func()
	OnClosed            func()
	OnError             func(kind bridgeerr.Kind, err error)
	OnMatchedFrame      func()
	OnStreamingEnabled  func()
	OnStreamingDisabled func()

	mu         sync.Mutex
	controller StreamController
	started    bool
}

// New constructs a Runner for hub, using client as its control-plane
// connection. newController lets tests inject a fake StreamController;
// production callers pass NewStreamController.
func New(logger *log.Logger, hub models.HubConfig, client HueClient, newController func(pskIdentity string, pskSecret []byte) StreamController) *Runner {
	return &Runner{
		logger:             logger,
		hub:                hub,
		client:             client,
		newController:      newController,
		sleepBeforeConnect: func() { time.Sleep(constants.PreHandshakeDelay) },
	}
}

// NewStreamController builds a production streaming.Controller bound
// to hub's host and entertainment configuration.
func NewStreamController(logger *log.Logger, hub models.HubConfig) func(pskIdentity string, pskSecret []byte) StreamController {
	return func(pskIdentity string, pskSecret []byte) StreamController {
		return streaming.New(logger, hub.Host, pskIdentity, pskSecret, hub.EntertainmentConfigurationID)
	}
}

// Start validates the remote entertainment configuration, opens the
// DTLS session and arms every channel black, per spec §4.5. On any
// failure it leaves the Runner fully torn down — callers don't need to
// call Stop after a failed Start.
func (r *Runner) Start(ctx context.Context) error {
	if err := config.ValidateRunnerInputs(r.hub); err != nil {
		return err
	}

	remotes, err := r.client.ListEntertainmentConfigurations()
	if err != nil {
		r.emitError(bridgeerr.HttpFailure, err)
		return err
	}

	remote, ok := lo.Find(remotes, func(c huectl.EntertainmentConfiguration) bool {
		return c.ID == r.hub.EntertainmentConfigurationID
	})
	if !ok {
		err := bridgeerr.New(bridgeerr.ConfigMismatch, fmt.Sprintf("hub %s: entertainment configuration %s not found on bridge", r.hub.ID, r.hub.EntertainmentConfigurationID))
		r.emitError(bridgeerr.ConfigMismatch, err)
		return err
	}

	if err := r.checkChannelSetEquality(remote); err != nil {
		r.emitError(bridgeerr.ConfigMismatch, err)
		return err
	}

	pskIdentity, err := r.client.ResolveApplicationID()
	if err != nil {
		r.emitError(bridgeerr.HttpFailure, err)
		return err
	}

	pskSecret, err := config.DecodePSK(r.hub.ClientKey)
	if err != nil {
		r.emitError(bridgeerr.ConfigInvalid, err)
		return err
	}

	controller := r.newController(pskIdentity, pskSecret)

	if err := r.client.StartEntertainmentConfiguration(r.hub.EntertainmentConfigurationID); err != nil {
		r.emitError(bridgeerr.HttpFailure, err)
		return err
	}
	if r.OnStreamingEnabled != nil {
		r.OnStreamingEnabled()
	}

	r.sleepBeforeConnect()

	if err := controller.Connect(ctx); err != nil {
		_ = r.client.StopEntertainmentConfiguration(r.hub.EntertainmentConfigurationID)
		if r.OnStreamingDisabled != nil {
			r.OnStreamingDisabled()
		}
		return err
	}

	r.mu.Lock()
	r.controller = controller
	r.started = true
	r.mu.Unlock()

	if r.OnConnected != nil {
		r.OnConnected()
	}

	black := lo.Map(r.hub.Channels, func(m models.ChannelMapping, _ int) models.ColorUpdate {
		return models.ColorUpdate{ChannelID: m.ChannelID}
	})
	controller.SendUpdate(black)

	return nil
}

// checkChannelSetEquality enforces the §3/§8 invariant that the hub's
// configured channel ids exactly equal the remote configuration's
// channel ids — no more, no fewer.
func (r *Runner) checkChannelSetEquality(remote huectl.EntertainmentConfiguration) error {
	configured := lo.Map(r.hub.Channels, func(m models.ChannelMapping, _ int) int { return m.ChannelID })

	missing, extra := lo.Difference(remote.ChannelIDs, configured)
	if len(missing) > 0 || len(extra) > 0 {
		return bridgeerr.New(bridgeerr.ConfigMismatch, fmt.Sprintf(
			"hub %s: channel id set mismatch against remote configuration %s: missing %v, extra %v",
			r.hub.ID, remote.ID, missing, extra))
	}
	return nil
}

// HandleFrame decodes frame against every configured channel mapping
// and forwards the result to the streaming session, but only when
// frame.Universe matches the hub's configured universe (spec §4.5,
// §4.6).
func (r *Runner) HandleFrame(frame models.ArtNetFrame) {
	if frame.Universe != r.hub.ArtNetUniverse {
		return
	}

	if r.OnMatchedFrame != nil {
		r.OnMatchedFrame()
	}

	r.mu.Lock()
	controller := r.controller
	r.mu.Unlock()
	if controller == nil {
		return
	}

	updates := lo.Map(r.hub.Channels, func(m models.ChannelMapping, _ int) models.ColorUpdate {
		return channel.Decode(m, frame.Data)
	})

	r.recordResult(controller.SendUpdate(updates), updates)
}

// SendSolidColor overrides every configured channel with rgb16 and
// sends it immediately, bypassing Art-Net — used by operator tooling
// to test a hub's wiring without a running Art-Net source.
func (r *Runner) SendSolidColor(rgb16 [3]uint16) streaming.SendResult {
	r.mu.Lock()
	controller := r.controller
	r.mu.Unlock()
	if controller == nil {
		return streaming.SendResultNotOpen
	}

	updates := lo.Map(r.hub.Channels, func(m models.ChannelMapping, _ int) models.ColorUpdate {
		return models.ColorUpdate{ChannelID: m.ChannelID, RGB16: rgb16}
	})

	result := controller.SendUpdate(updates)
	r.recordResult(result, updates)
	return result
}

func (r *Runner) recordResult(result streaming.SendResult, updates []models.ColorUpdate) {
	switch result {
	case streaming.SendResultSent:
		if r.OnSent != nil {
			r.OnSent(updates)
		}
	case streaming.SendResultThrottled, streaming.SendResultSkipped:
		if r.OnThrottled != nil {
			r.OnThrottled()
		}
	case streaming.SendResultNotOpen:
		if r.OnDropped != nil {
			r.OnDropped()
		}
	}
}

// Stop closes the DTLS session (idempotent) then best-effort stops the
// remote entertainment configuration, swallowing the stop call's error
// since the session is already torn down either way (spec §4.5).
func (r *Runner) Stop() error {
	r.mu.Lock()
	controller := r.controller
	started := r.started
	r.started = false
	r.mu.Unlock()

	if controller == nil {
		return nil
	}

	closeErr := controller.Close()
	if r.OnClosed != nil {
		r.OnClosed()
	}

	if started {
		if err := r.client.StopEntertainmentConfiguration(r.hub.EntertainmentConfigurationID); err != nil {
			r.logger.Warn("best-effort stop of remote entertainment configuration failed", "hub", r.hub.ID, "err", err)
		}
		if r.OnStreamingDisabled != nil {
			r.OnStreamingDisabled()
		}
	}

	return closeErr
}

func (r *Runner) emitError(kind bridgeerr.Kind, err error) {
	if r.OnError != nil {
		r.OnError(kind, err)
	}
}
