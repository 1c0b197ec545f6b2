// vigil-agent runs one content observer against a single page. It samples the
// page's visible text on a schedule and submits changed samples to the
// coordinator over a persistent websocket.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vigil-sec/vigil/internal/config"
	"github.com/vigil-sec/vigil/internal/infra/fetch"
	"github.com/vigil-sec/vigil/internal/logging"
	"github.com/vigil-sec/vigil/internal/messages"
	"github.com/vigil-sec/vigil/internal/observer"
)

func main() {
	var (
		pageURL    = flag.String("page", "", "page URL to observe (required)")
		serverURL  = flag.String("server", "ws://127.0.0.1:8790/ws/observer", "coordinator websocket URL")
		configPath = flag.String("config", "", "optional config.yaml path")
	)
	flag.Parse()

	if *pageURL == "" {
		log.Fatal("-page is required")
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("config load error: %v", err)
		}
		cfg = loaded
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logging.Sync(logger)
	logger = logger.With(logging.Component("observer"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("observer stopping")
		cancel()
	}()

	source := &observer.PageSource{
		URL:     *pageURL,
		Fetcher: fetch.New(cfg.Analysis.Timeout.Std()),
		Limit:   cfg.Observer.SampleLimit,
	}

	// Reconnect forever; the coordinator owns all durable state, so a dropped
	// link loses nothing but time.
	for ctx.Err() == nil {
		if err := runOnce(ctx, cfg, source, *serverURL, *pageURL, logger); err != nil && ctx.Err() == nil {
			logger.Warn("observer session ended", zap.Error(err))
		}
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}

func runOnce(ctx context.Context, cfg *config.Config, source *observer.PageSource, serverURL, pageURL string, logger *zap.Logger) error {
	link, err := observer.Dial(ctx, serverURL, messages.Hello{PageURL: pageURL}, logger)
	if err != nil {
		return err
	}
	defer link.Close()

	obs := &observer.Observer{
		Source:       source,
		Channel:      link,
		Interval:     cfg.Observer.Interval.Std(),
		InitialDelay: cfg.Observer.InitialDelay.Std(),
		MinSample:    cfg.Observer.MinSample,
		Log:          logger,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		if err := obs.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Warn("scan loop stopped", zap.Error(err))
		}
	}()

	return link.Run(runCtx, obs)
}
