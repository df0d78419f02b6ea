// Package coordinator wires one Art-Net Receiver to one Hub Runner per
// configured hub and drives their combined startup and shutdown (spec
// §4.7). The parallel start/stop shape is grounded on
// golang.org/x/sync/errgroup, a dependency the teacher's own module
// graph pulls in transitively but never exercises directly — the
// Coordinator is where this module gives it a concrete job.
package coordinator

import (
	"context"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/hueartnet/bridge/internal/artnetrecv"
	"github.com/hueartnet/bridge/internal/bridgeerr"
	"github.com/hueartnet/bridge/internal/config"
	"github.com/hueartnet/bridge/internal/huectl"
	"github.com/hueartnet/bridge/internal/hubrunner"
	"github.com/hueartnet/bridge/internal/models"
	"github.com/hueartnet/bridge/internal/status"
)

// hub pairs a configured hub with the Runner built for it.
type hub struct {
	config models.HubConfig
	runner *hubrunner.Runner
}

// Coordinator owns the process's single Art-Net Receiver and fans its
// frames out to every live Hub Runner.
type Coordinator struct {
	logger   *log.Logger
	receiver *artnetrecv.Receiver
	tracker  *status.Tracker
	hubs     []*hub
}

// New validates every hub's config, builds a Runner for each valid
// one, and wires the receiver's frame broadcast to all of them. A hub
// that fails config validation is logged and skipped rather than
// aborting the whole process; if every hub fails validation, New
// returns an error since there would be nothing left to run.
func New(logger *log.Logger, bindIP string, hubConfigs []models.HubConfig, tracker *status.Tracker) (*Coordinator, error) {
	c := &Coordinator{
		logger:   logger,
		receiver: artnetrecv.New(logger, bindIP),
		tracker:  tracker,
	}

	c.receiver.OnMalformed(tracker.RecordMalformed)
	c.receiver.OnFrame(func(frame models.ArtNetFrame) { tracker.RecordFrame(frame.Universe) })

	for _, hc := range hubConfigs {
		if err := config.ValidateRunnerInputs(hc); err != nil {
			logger.Error("skipping hub with invalid config", "hub", hc.ID, "err", err)
			continue
		}

		client := huectl.New(logger.With("hub", hc.ID), hc.Host, hc.Username)
		runner := hubrunner.New(logger.With("hub", hc.ID), hc, client, hubrunner.NewStreamController(logger.With("hub", hc.ID), hc))
		c.wireRunner(hc.ID, runner)

		c.hubs = append(c.hubs, &hub{config: hc, runner: runner})
		c.receiver.Subscribe(runner.HandleFrame)
	}

	if len(c.hubs) == 0 {
		return nil, bridgeerr.New(bridgeerr.ConfigInvalid, "no hub has a valid configuration; nothing to run")
	}

	return c, nil
}

func (c *Coordinator) wireRunner(hubID string, runner *hubrunner.Runner) {
	runner.OnConnected = func() { c.tracker.HubStarted(hubID) }
	runner.OnClosed = func() { c.tracker.HubClosed(hubID) }
	runner.OnSent = func(updates []models.ColorUpdate) { c.tracker.RecordSent(hubID, updates) }
	runner.OnThrottled = func() { c.tracker.RecordThrottled(hubID) }
	runner.OnDropped = func() { c.tracker.RecordDropped(hubID) }
	runner.OnMatchedFrame = func() { c.tracker.RecordMatchedFrame(hubID) }
	runner.OnStreamingEnabled = func() { c.tracker.HubStreamingEnabled(hubID) }
	runner.OnStreamingDisabled = func() { c.tracker.HubStreamingDisabled(hubID) }
	runner.OnError = func(kind bridgeerr.Kind, err error) {
		c.logger.Error("hub runner error", "hub", hubID, "kind", kind, "err", err)
		c.tracker.RecordError(hubID, err)
	}
}

// Start starts every hub runner concurrently, then binds the Art-Net
// receiver. A hub runner that fails to start is logged and dropped
// from the active set; Start only fails outright if every hub fails.
func (c *Coordinator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(context.Background())
	failed := make([]bool, len(c.hubs))

	for i, h := range c.hubs {
		i, h := i, h
		g.Go(func() error {
			if err := h.runner.Start(gctx); err != nil {
				c.logger.Error("hub failed to start", "hub", h.config.ID, "err", err)
				failed[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	remaining := c.hubs[:0]
	for i, h := range c.hubs {
		if !failed[i] {
			remaining = append(remaining, h)
		}
	}
	c.hubs = remaining

	if len(c.hubs) == 0 {
		return bridgeerr.New(bridgeerr.ConfigInvalid, "every configured hub failed to start")
	}

	c.tracker.BindReceiver(c.receiver.BindAddress())
	return c.receiver.Start(ctx)
}

// Shutdown stops the receiver, then closes every hub runner
// concurrently, swallowing individual errors (spec §4.7) — shutdown is
// best-effort and always completes.
func (c *Coordinator) Shutdown() error {
	if err := c.receiver.Stop(); err != nil {
		c.logger.Warn("error stopping Art-Net receiver", "err", err)
	}

	var g errgroup.Group
	for _, h := range c.hubs {
		h := h
		g.Go(func() error {
			if err := h.runner.Stop(); err != nil {
				c.logger.Warn("error stopping hub runner", "hub", h.config.ID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

// HubIDs returns the ids of the hubs currently running, for status
// reporting.
func (c *Coordinator) HubIDs() []string {
	ids := make([]string, 0, len(c.hubs))
	for _, h := range c.hubs {
		ids = append(ids, h.config.ID)
	}
	return ids
}
