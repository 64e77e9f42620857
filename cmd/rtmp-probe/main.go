package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamwell/rtmp-probe/internal/config"
	"github.com/streamwell/rtmp-probe/internal/diagnostics"
	"github.com/streamwell/rtmp-probe/internal/ingest"
	"github.com/streamwell/rtmp-probe/internal/ingest/httpapi"
	"github.com/streamwell/rtmp-probe/internal/logger"
	"github.com/streamwell/rtmp-probe/internal/middleware"
	"github.com/streamwell/rtmp-probe/internal/pool"
)

func main() {
	cfgPath := flag.String("config", "", "Path to JSON config file")
	listen := flag.String("listen", "", "Listen address (overrides config)")
	httpAddr := flag.String("http-addr", "", "HTTP listen address for health/metrics/snapshot (overrides config)")
	readBuf := flag.Int("read-buffer", 0, "Read buffer size in bytes (overrides config)")
	writeBuf := flag.Int("write-buffer", 0, "Write buffer size in bytes (overrides config)")
	windowAckSize := flag.Uint("window-ack-size", 0, "Window Acknowledgement Size advertised to publishers (overrides config)")
	serviceProfile := flag.String("service-profile", "", "Diagnostics thresholds to apply: generic, youtube, twitch, facebook (overrides config)")
	flag.Parse()

	log := logger.New()

	baseCfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadFile(*cfgPath)
		if err != nil {
			log.Fatal("failed to load config", "err", err)
		}
		baseCfg = loaded
	}

	if *listen != "" {
		baseCfg.ListenAddr = *listen
	}
	if *httpAddr != "" {
		baseCfg.HTTPAddr = *httpAddr
	}
	if *readBuf > 0 {
		baseCfg.ReadBuffer = *readBuf
	}
	if *writeBuf > 0 {
		baseCfg.WriteBuffer = *writeBuf
	}
	if *windowAckSize > 0 {
		baseCfg.DefaultWindowAckSize = uint32(*windowAckSize)
	}
	if *serviceProfile != "" {
		baseCfg.DefaultServiceProfile = *serviceProfile
	}

	if err := baseCfg.Validate(); err != nil {
		log.Fatal("invalid config", "err", err)
	}

	var rateLimiter *middleware.RateLimiter
	if baseCfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(baseCfg.RateLimit.RequestsPerSec, baseCfg.RateLimit.Burst)
		defer rateLimiter.Stop()
	}

	var connLimiter *middleware.ConnectionLimiter
	if baseCfg.ConnectionLimit.MaxTotal > 0 || baseCfg.ConnectionLimit.MaxPerIP > 0 {
		connLimiter = middleware.NewConnectionLimiter(baseCfg.ConnectionLimit.MaxTotal, baseCfg.ConnectionLimit.MaxPerIP)
	}

	bufPool := pool.New(baseCfg.ReadBuffer)
	registry := ingest.NewRegistry()

	srv := ingest.Server{
		ListenAddr:     baseCfg.ListenAddr,
		ReadBuf:        baseCfg.ReadBuffer,
		WriteBuf:       baseCfg.WriteBuffer,
		IdleTimeout:    baseCfg.IdleTimeout.AsDuration(),
		Log:            log,
		RateLimit:      rateLimiter,
		ConnLimit:      connLimiter,
		BufPool:        bufPool,
		Registry:       registry,
		WindowAckSize:  baseCfg.DefaultWindowAckSize,
		ServiceProfile: diagnostics.ParseServiceProfile(baseCfg.DefaultServiceProfile),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if baseCfg.HTTPAddr != "" {
		httpSrv := httpapi.New(baseCfg.HTTPAddr, log, registry)
		go func() {
			if err := httpSrv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("http server error", "err", err)
			}
		}()
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "reason", ctx.Err())
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	// Graceful shutdown: the accept loop is already unblocked by
	// ctx.Done closing the listener; give in-flight sessions a short
	// window to finish their current event before the process exits.
	// RTMP has no GOAWAY equivalent, so there is nothing to send them.
	drainTimeout := 5 * time.Second
	drainInterval := 200 * time.Millisecond
	drainStart := time.Now()

	if connLimiter != nil {
		for {
			elapsed := time.Since(drainStart)
			if elapsed >= drainTimeout {
				log.Warn("drain timeout reached, exiting", "elapsed", elapsed)
				break
			}
			total, _ := connLimiter.GetActiveConnections()
			if total == 0 {
				break
			}
			time.Sleep(drainInterval)
		}
	}

	log.Info("shutdown complete")
}
