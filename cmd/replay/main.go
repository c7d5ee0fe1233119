// Command replay runs a WAV file through the transcription pipeline and
// prints every event as a JSON line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/livescribe/internal/audio"
	"github.com/obiente/translate/livescribe/internal/config"
	"github.com/obiente/translate/livescribe/internal/engine"
	"github.com/obiente/translate/livescribe/internal/engine/backend"
	"github.com/obiente/translate/livescribe/internal/events"
	"github.com/obiente/translate/livescribe/internal/logging"
	"github.com/obiente/translate/livescribe/internal/pipeline"
	"github.com/obiente/translate/livescribe/internal/vad"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	wavPath := flag.String("wav", "", "WAV file to transcribe")
	realtime := flag.Bool("realtime", false, "feed audio at wall-clock speed")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "audio fed per call")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if *wavPath == "" {
		log.Fatal().Msg("-wav is required")
	}
	// Logs go to stderr so stdout carries only events.
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: "console"})
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	f, err := os.Open(*wavPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open wav")
	}
	pcm, rate, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Str("path", *wavPath).Msg("decode wav")
	}
	samples := audio.Normalize(pcm, rate)
	log.Info().
		Str("path", *wavPath).
		Int("sample_rate", rate).
		Dur("duration", audio.SamplesToDuration(len(samples))).
		Msg("replaying")

	ctx := context.Background()
	rec := backend.NewRecognizer(cfg.Fast)
	defer rec.Close()
	final := backend.NewFinalEngine(ctx, cfg.Final, engine.FinalOptions{Logger: log.Logger})

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
		FrameDuration:  cfg.Audio.Frame,
		BufferDuration: cfg.Audio.Buffer,
		DrainTimeout:   cfg.Session.DrainTimeout,
		Logger:         log.Logger,
	})

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)
	printer := events.SinkFunc(func(_ context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		return enc.Encode(ev)
	})
	if _, err := mgr.Start(ctx, printer); err != nil {
		log.Fatal().Err(err).Msg("start session")
	}

	step := int(audio.DurationToSamples(*chunk))
	if step <= 0 {
		step = len(samples)
	}
	for off := 0; off < len(samples); off += step {
		end := min(off+step, len(samples))
		if err := mgr.FeedPCM(samples[off:end]); err != nil {
			log.Fatal().Err(err).Msg("feed")
		}
		if *realtime {
			time.Sleep(audio.SamplesToDuration(end - off))
		}
	}

	segs, err := mgr.Stop(ctx)
	if err != nil {
		log.Error().Err(err).Msg("stop")
	}
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = final.Close(closeCtx)
	log.Info().Int("segments", len(segs)).Msg("replay finished")
}
