package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hueartnet/bridge/internal/config"
	"github.com/hueartnet/bridge/internal/coordinator"
	"github.com/hueartnet/bridge/internal/status"
)

const appName = "artnet-hue-bridge"

func main() {
	logger := log.NewWithOptions(&lumberjack.Logger{
		Filename: "logs/artnet-hue-bridge.log",
		MaxAge:   3,
	}, log.Options{
		Level:      log.InfoLevel,
		TimeFormat: "2006/01/02 15:04:05",
	})
	logger.Info("artnet-hue-bridge starting")

	configPath, err := config.Locate(appName)
	if err != nil {
		logger.Fatal("could not locate config file", "err", err)
	}

	doc, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("could not load config file", "path", configPath, "err", err)
	}

	tracker := status.NewTracker(logger)

	coord, err := coordinator.New(logger, doc.ArtNet.BindIP, doc.Hubs, tracker)
	if err != nil {
		logger.Fatal("could not start: no hub is usable", "err", err)
	}

	ctx, cancelReceiver := context.WithCancel(context.Background())
	if err := coord.Start(ctx); err != nil {
		cancelReceiver()
		logger.Fatal("startup failed", "err", err)
	}
	logger.Info("all hubs started", "hubs", coord.HubIDs())

	metricsServer := &http.Server{Addr: ":9090", Handler: promhttp.HandlerFor(tracker.Registry(), promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "err", err)
		}
	}()

	quitChannel := make(chan os.Signal, 1)
	signal.Notify(quitChannel, syscall.SIGINT, syscall.SIGTERM)
	<-quitChannel

	logger.Info("artnet-hue-bridge is closing")
	cancelReceiver()
	_ = metricsServer.Close()
	_ = coord.Shutdown()
}
