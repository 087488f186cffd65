package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/objectpack/admin"
	"github.com/maxpert/objectpack/audit"
	"github.com/maxpert/objectpack/cfg"
	"github.com/maxpert/objectpack/observer"
	"github.com/maxpert/objectpack/pack"
	"github.com/maxpert/objectpack/sqlstore"
	"github.com/maxpert/objectpack/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("instance_id", cfg.Config.InstanceID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("objectpack - action packs over SQL tables")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlstore.Open(sqlstore.Options{
		Driver:             string(cfg.Config.Database.Driver),
		DSN:                cfg.Config.Database.DSN,
		PoolSize:           cfg.Config.Database.PoolSize,
		MaxIdleTime:        time.Duration(cfg.Config.Database.MaxIdleTimeSeconds) * time.Second,
		MaxLifetime:        time.Duration(cfg.Config.Database.MaxLifetimeSeconds) * time.Second,
		StatementCacheSize: cfg.Config.Database.StatementCacheSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
		return
	}
	defer db.Close()

	if cfg.Config.Prometheus.Enabled {
		collector := telemetry.NewMetricsCollector(db, 10*time.Second)
		collector.Start()
		defer collector.Stop()
	}

	controller, publisher, err := initializeController(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize packs")
		return
	}
	if publisher != nil {
		defer publisher.Close()
	}

	server := &http.Server{
		Addr: net.JoinHostPort(cfg.Config.Server.BindAddress, strconv.Itoa(cfg.Config.Server.Port)),
		Handler: admin.NewRouter(admin.NewHandlers(controller), admin.Options{
			Prefix:   cfg.Config.Server.URLPrefix,
			Secret:   cfg.Config.Auth.Secret,
			Compress: cfg.Config.Server.Compression,
			Metrics:  telemetry.GetMetricsHandler(),
		}),
		ReadTimeout:  time.Duration(cfg.Config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Config.Server.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Info().
		Str("addr", server.Addr).
		Int("packs", len(controller.Packs())).
		Str("data_dir", cfg.Config.DataDir).
		Msg("objectpack started successfully")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
	}
}

// initializeController registers the configured packs and the audit
// listener, then freezes the observer
func initializeController(ctx context.Context, db *sqlstore.DB) (*pack.Controller, *audit.Publisher, error) {
	verbosity, err := observer.ParseVerbosity(cfg.Config.Observer.Verbosity)
	if err != nil {
		return nil, nil, err
	}
	controller := pack.NewController(observer.New(observer.Options{
		Verbosity: verbosity,
		Debug:     cfg.Config.Observer.Debug,
	}))

	packs, err := buildPacks(ctx, db, cfg.Config.Packs, cfg.Config.Paging)
	if err != nil {
		return nil, nil, err
	}
	if err := controller.Register(packs...); err != nil {
		return nil, nil, err
	}

	publisher, err := startAudit(controller.Observer(), cfg.Config.Audit, cfg.Config.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	controller.Freeze()
	return controller, publisher, nil
}

// startAudit subscribes an audit publisher when a sink is configured
func startAudit(obs *observer.Observer, c cfg.AuditConfiguration, instance uint64) (*audit.Publisher, error) {
	sink, err := audit.NewSink(c)
	if err != nil || sink == nil {
		return nil, err
	}
	publisher, err := audit.NewPublisher(audit.Config{
		Sink:     sink,
		SinkName: string(c.Sink),
		Topic:    audit.Topics(c),
		Instance: instance,
	})
	if err != nil {
		sink.Close()
		return nil, err
	}
	if err := obs.Subscribe(publisher.Subscription(c.Actions)); err != nil {
		publisher.Close()
		return nil, err
	}
	log.Info().Str("sink", string(c.Sink)).Strs("actions", c.Actions).Msg("Audit enabled")
	return publisher, nil
}
