package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "LIVESCRIBE_"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log" envPrefix:"LOG_"`
	Audio   AudioConfig   `yaml:"audio" envPrefix:"AUDIO_"`
	VAD     VADConfig     `yaml:"vad" envPrefix:"VAD_"`
	Fast    FastConfig    `yaml:"fast" envPrefix:"FAST_"`
	Final   FinalConfig   `yaml:"final" envPrefix:"FINAL_"`
	Router  RouterConfig  `yaml:"router" envPrefix:"ROUTER_"`
	Session SessionConfig `yaml:"session" envPrefix:"SESSION_"`
	Sinks   SinksConfig   `yaml:"sinks" envPrefix:"SINKS_"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type AudioConfig struct {
	Frame        time.Duration `yaml:"frame" env:"FRAME"`
	Buffer       time.Duration `yaml:"buffer" env:"BUFFER"`
	RecordingDir string        `yaml:"recording_dir" env:"RECORDING_DIR"`
}

type VADConfig struct {
	Threshold     float64       `yaml:"threshold" env:"THRESHOLD"`
	FramesToOpen  int           `yaml:"frames_to_open" env:"FRAMES_TO_OPEN"`
	FramesToClose int           `yaml:"frames_to_close" env:"FRAMES_TO_CLOSE"`
	MaxSegment    time.Duration `yaml:"max_segment" env:"MAX_SEGMENT"`
	MinSegment    time.Duration `yaml:"min_segment" env:"MIN_SEGMENT"`
}

type FastConfig struct {
	// Backend is "vosk" or "none".
	Backend   string `yaml:"backend" env:"BACKEND"`
	ModelPath string `yaml:"model_path" env:"MODEL_PATH"`
}

type FinalConfig struct {
	// Backend is "whisper", "openai", "gcloud" or "none".
	Backend        string        `yaml:"backend" env:"BACKEND"`
	ModelPath      string        `yaml:"model_path" env:"MODEL_PATH"`
	QueueCapacity  int           `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	Threads        int           `yaml:"threads" env:"THREADS"`
	Language       string        `yaml:"language" env:"LANGUAGE"`
	CarryPrompt    bool          `yaml:"carry_prompt" env:"CARRY_PROMPT"`
	OpenAI         OpenAIConfig  `yaml:"openai" envPrefix:"OPENAI_"`
	GCloud         GCloudConfig  `yaml:"gcloud" envPrefix:"GCLOUD_"`
}

type OpenAIConfig struct {
	URL     string        `yaml:"url" env:"URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type GCloudConfig struct {
	LanguageCode string `yaml:"language_code" env:"LANGUAGE_CODE"`
	Model        string `yaml:"model" env:"MODEL"`
}

type RouterConfig struct {
	QueueCapacity   int `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	FastBacklogWarn int `yaml:"fast_backlog_warn" env:"FAST_BACKLOG_WARN"`
}

type SessionConfig struct {
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

type SinksConfig struct {
	Log   bool        `yaml:"log" env:"LOG"`
	Kafka KafkaConfig `yaml:"kafka" envPrefix:"KAFKA_"`
	MQTT  MQTTConfig  `yaml:"mqtt" envPrefix:"MQTT_"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled" env:"ENABLED"`
	Brokers      []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	TopicPartial string   `yaml:"topic_partial" env:"TOPIC_PARTIAL"`
	TopicFinal   string   `yaml:"topic_final" env:"TOPIC_FINAL"`
	TopicStatus  string   `yaml:"topic_status" env:"TOPIC_STATUS"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" env:"ENABLED"`
	BrokerURL   string `yaml:"broker_url" env:"BROKER_URL"`
	ClientID    string `yaml:"client_id" env:"CLIENT_ID"`
	TopicPrefix string `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	Username    string `yaml:"username" env:"USERNAME"`
	Password    string `yaml:"password" env:"PASSWORD"`
	QoS         int    `yaml:"qos" env:"QOS"`
}

const (
	DefaultFastModel  = "vosk-model-small-en-us-0.15"
	DefaultFinalModel = "ggml-base.en.bin"
)

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Audio: AudioConfig{
			Frame:  20 * time.Millisecond,
			Buffer: 60 * time.Second,
		},
		VAD: VADConfig{
			Threshold:     0.02,
			FramesToOpen:  5,
			FramesToClose: 8,
			MaxSegment:    15 * time.Second,
			MinSegment:    250 * time.Millisecond,
		},
		Fast: FastConfig{Backend: "vosk"},
		Final: FinalConfig{
			Backend:        "whisper",
			QueueCapacity:  8,
			RequestTimeout: 60 * time.Second,
			Language:       "en",
			CarryPrompt:    true,
			OpenAI: OpenAIConfig{
				URL:     "https://api.openai.com/v1/audio/transcriptions",
				Model:   "whisper-1",
				Timeout: 60 * time.Second,
			},
			GCloud: GCloudConfig{LanguageCode: "en-US"},
		},
		Router:  RouterConfig{QueueCapacity: 256, FastBacklogWarn: 500},
		Session: SessionConfig{DrainTimeout: 10 * time.Second},
		Sinks: SinksConfig{
			Kafka: KafkaConfig{
				TopicPartial: "transcripts.partial",
				TopicFinal:   "transcripts.final",
				TopicStatus:  "transcripts.status",
			},
			MQTT: MQTTConfig{
				ClientID:    "livescribe",
				TopicPrefix: "livescribe",
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and the process environment, in that order, and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := getenv(EnvPrefix+"DOTENV", ".env")
	if _, err := os.Stat(dotenv); err == nil {
		if err := godotenv.Load(dotenv); err != nil {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	applyLegacyEnv(&cfg)
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	cfg.Fast.ModelPath = ResolveModelPath(cfg.Fast.ModelPath, DefaultFastModel)
	cfg.Final.ModelPath = ResolveModelPath(cfg.Final.ModelPath, DefaultFinalModel)

	return cfg, cfg.Validate()
}

// applyLegacyEnv honours the variables the whisper server used before the
// LIVESCRIBE_ prefix existed. Prefixed variables still win.
func applyLegacyEnv(cfg *Config) {
	cfg.Server.Addr = getenv("WHISPER_GO_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getenv("LOG_LEVEL", cfg.Log.Level)
	cfg.Final.ModelPath = getenv("WHISPER_MODEL_PATH", cfg.Final.ModelPath)
	cfg.Final.Threads = getenvInt("WHISPER_THREADS", cfg.Final.Threads)
	cfg.Final.CarryPrompt = getenvBool("WHISPER_CARRY_PROMPT", cfg.Final.CarryPrompt)
}

// ResolveModelPath expands a configured path, or, when none is configured,
// looks for name under ~/.livescribe/models and ./models. The home location
// is returned when neither exists so that the resulting error names it.
func ResolveModelPath(configured, name string) string {
	if configured != "" {
		return expandHome(configured)
	}
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".livescribe", "models", name))
	}
	candidates = append(candidates, filepath.Join("models", name))
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (c Config) Validate() error {
	var errs []error
	if c.Audio.Frame < 10*time.Millisecond || c.Audio.Frame > 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("audio.frame %v must be between 10ms and 100ms", c.Audio.Frame))
	}
	if c.Audio.Buffer < c.VAD.MaxSegment {
		errs = append(errs, fmt.Errorf("audio.buffer %v must hold at least vad.max_segment %v", c.Audio.Buffer, c.VAD.MaxSegment))
	}
	if c.VAD.Threshold <= 0 || c.VAD.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v must be in (0, 1)", c.VAD.Threshold))
	}
	if c.VAD.FramesToOpen < 1 || c.VAD.FramesToClose < 1 {
		errs = append(errs, errors.New("vad.frames_to_open and vad.frames_to_close must be at least 1"))
	}
	if c.VAD.MaxSegment <= c.VAD.MinSegment {
		errs = append(errs, fmt.Errorf("vad.max_segment %v must exceed vad.min_segment %v", c.VAD.MaxSegment, c.VAD.MinSegment))
	}
	switch c.Fast.Backend {
	case "vosk", "none":
	default:
		errs = append(errs, fmt.Errorf("fast.backend %q is not one of vosk, none", c.Fast.Backend))
	}
	switch c.Final.Backend {
	case "whisper", "openai", "gcloud", "none":
	default:
		errs = append(errs, fmt.Errorf("final.backend %q is not one of whisper, openai, gcloud, none", c.Final.Backend))
	}
	if c.Final.QueueCapacity < 1 {
		errs = append(errs, errors.New("final.queue_capacity must be at least 1"))
	}
	if c.Router.QueueCapacity < 1 {
		errs = append(errs, errors.New("router.queue_capacity must be at least 1"))
	}
	if c.Session.DrainTimeout <= 0 {
		errs = append(errs, errors.New("session.drain_timeout must be positive"))
	}
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("sinks.kafka.brokers required when kafka is enabled"))
	}
	if c.Sinks.MQTT.Enabled && c.Sinks.MQTT.BrokerURL == "" {
		errs = append(errs, errors.New("sinks.mqtt.broker_url required when mqtt is enabled"))
	}
	if c.Sinks.MQTT.QoS < 0 || c.Sinks.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("sinks.mqtt.qos %d must be 0, 1 or 2", c.Sinks.MQTT.QoS))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "0", "false", "no", "off":
			return false
		default:
			return true
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
