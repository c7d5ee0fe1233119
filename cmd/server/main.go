package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/config"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/engine/backend"
	"github.com/obiente/translate/livescribe/internal/events"
	serverhttp "github.com/obiente/translate/livescribe/internal/http"
	"github.com/obiente/translate/livescribe/internal/logging"
	"github.com/obiente/translate/livescribe/internal/metrics"
	"github.com/obiente/translate/livescribe/internal/pipeline"
	"github.com/obiente/translate/livescribe/internal/vad"
	"github.com/obiente/translate/livescribe/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rec := backend.NewRecognizer(cfg.Fast)
	final := backend.NewFinalEngine(ctx, cfg.Final, engine.FinalOptions{
		Logger:  logging.WithComponent("final_engine"),
		Metrics: m,
	})
	log.Info().
		Str("fast_backend", cfg.Fast.Backend).
		Str("fast", rec.Availability().String()).
		Str("final_backend", cfg.Final.Backend).
		Str("final", final.Availability().String()).
		Msg("engines initialised")

	hub := ws.NewHub(logger)
	sinks, closers := buildSinks(cfg.Sinks, logger, m)
	sinks = append(sinks, hub)

	mgr := pipeline.NewManager(pipeline.Options{
		Recognizer: rec,
		Final:      final,
		Classifier: vad.NewEnergyClassifier(cfg.VAD.Threshold),
		VAD: vad.Config{
			FramesToOpen:  cfg.VAD.FramesToOpen,
			FramesToClose: cfg.VAD.FramesToClose,
			MaxSegment:    cfg.VAD.MaxSegment,
			MinSegment:    cfg.VAD.MinSegment,
		},
		FrameDuration:   cfg.Audio.Frame,
		BufferDuration:  cfg.Audio.Buffer,
		RouterCapacity:  cfg.Router.QueueCapacity,
		FastBacklogWarn: cfg.Router.FastBacklogWarn,
		DrainTimeout:    cfg.Session.DrainTimeout,
		RecordingDir:    cfg.Audio.RecordingDir,
		Sinks:           sinks,
		Logger:          logger,
		Metrics:         m,
	})

	wss := ws.NewServer(mgr, hub, ws.Options{Logger: logger})
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: serverhttp.NewRouter(serverhttp.Deps{
			Sessions:  mgr,
			WebSocket: wss,
			Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Watchers:  hub.Watchers,
			Logger:    logging.WithComponent("http"),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("livescribe server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session shutdown incomplete")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if err := final.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("final engine close")
	}
	if err := rec.Close(); err != nil {
		log.Warn().Err(err).Msg("recognizer close")
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("sink close")
		}
	}
	log.Info().Msg("livescribe stopped")
}

// buildSinks returns the process-wide sinks and whatever must be closed on
// shutdown. A broker that cannot be reached is logged and skipped.
func buildSinks(cfg config.SinksConfig, l zerolog.Logger, m *metrics.Metrics) ([]events.Sink, []io.Closer) {
	var (
		sinks   []events.Sink
		closers []io.Closer
	)
	if cfg.Log {
		sinks = append(sinks, events.NewLogSink(l))
	}
	if cfg.Kafka.Enabled {
		k := events.NewKafkaSink(events.KafkaConfig{
			Enabled:      cfg.Kafka.Enabled,
			Brokers:      cfg.Kafka.Brokers,
			TopicPartial: cfg.Kafka.TopicPartial,
			TopicFinal:   cfg.Kafka.TopicFinal,
			TopicStatus:  cfg.Kafka.TopicStatus,
		}, l, m)
		sinks = append(sinks, k)
		closers = append(closers, k)
	}
	if cfg.MQTT.Enabled {
		s, err := events.ConnectMQTT(events.MQTTOptions{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			QoS:         byte(cfg.MQTT.QoS),
			Log:         l.With().Str("component", "mqtt_sink").Logger(),
			Metrics:     m,
		})
		if err != nil {
			l.Error().Err(err).Str("broker", cfg.MQTT.BrokerURL).Msg("mqtt sink disabled")
		} else {
			sinks = append(sinks, s)
			closers = append(closers, s)
		}
	}
	return sinks, closers
}
