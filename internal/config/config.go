package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type MediaConfig struct {
	HeartbeatTimeout int  `yaml:"heartbeat_timeout_ms"`
	RequireVideo     bool `yaml:"require_video"`
}

// AudioConfig tunes the per-frame analysis loop. The debounce and quiet
// period defaults come from field testing; none of them are load-bearing.
type AudioConfig struct {
	SampleRate        int     `yaml:"sample_rate"`
	Channels          int     `yaml:"channels"`
	NoiseFloorMin     float64 `yaml:"noise_floor_min"`
	NoiseFloorMax     float64 `yaml:"noise_floor_max"`
	NoiseFloorWeight  float64 `yaml:"noise_floor_weight"`
	SilenceMultiplier float64 `yaml:"silence_multiplier"`
	SilenceOffset     float64 `yaml:"silence_offset"`
	SilenceMin        float64 `yaml:"silence_min"`
	SilenceMax        float64 `yaml:"silence_max"`
	BargeInMultiplier float64 `yaml:"barge_in_multiplier"`
	BargeInOffset     float64 `yaml:"barge_in_offset"`
	BargeInMin        float64 `yaml:"barge_in_min"`
	BargeInMax        float64 `yaml:"barge_in_max"`
	BargeInRatio      float64 `yaml:"barge_in_ratio"`
	VoiceMargin       float64 `yaml:"voice_margin"`
	BargeInFrames     int     `yaml:"barge_in_frames"`
	QuietPeriodMS     int     `yaml:"quiet_period_ms"`
	CalibrationMS     int     `yaml:"calibration_ms"`
}

type STTConfig struct {
	Mode           string `yaml:"mode"` // mock, exec, http
	Command        string `yaml:"command"`
	Endpoint       string `yaml:"endpoint"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type TTSConfig struct {
	RemoteEnabled bool     `yaml:"remote_enabled"`
	LocalCommand  string   `yaml:"local_command"`
	Voices        []string `yaml:"voices"`
	SampleRate    int      `yaml:"sample_rate"`
	Channels      int      `yaml:"channels"`
}

type BackendConfig struct {
	Mode        string  `yaml:"mode"` // mock, http
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxRetries  int     `yaml:"max_retries"`
	TimeoutMS   int     `yaml:"timeout_ms"`
	Temperature float64 `yaml:"temperature"`
}

type InterviewConfig struct {
	QuestionCount   int  `yaml:"question_count"`
	FollowUpEnabled bool `yaml:"follow_up_enabled"`
	FollowUpWindow  int  `yaml:"follow_up_window"`
	AutoStop        bool `yaml:"auto_stop"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	Media       MediaConfig     `yaml:"media"`
	Audio       AudioConfig     `yaml:"audio"`
	STT         STTConfig       `yaml:"stt"`
	TTS         TTSConfig       `yaml:"tts"`
	Backend     BackendConfig   `yaml:"backend"`
	Interview   InterviewConfig `yaml:"interview"`
}

func Default() Config {
	return Config{
		RuntimeName: "interviewd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/interviews.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Media: MediaConfig{
			HeartbeatTimeout: 6000,
			RequireVideo:     false,
		},
		Audio: AudioConfig{
			SampleRate:        16000,
			Channels:          1,
			NoiseFloorMin:     0.001,
			NoiseFloorMax:     0.12,
			NoiseFloorWeight:  0.02,
			SilenceMultiplier: 2.2,
			SilenceOffset:     0.006,
			SilenceMin:        0.008,
			SilenceMax:        0.15,
			BargeInMultiplier: 3.5,
			BargeInOffset:     0.02,
			BargeInMin:        0.025,
			BargeInMax:        0.35,
			BargeInRatio:      1.25,
			VoiceMargin:       0.004,
			BargeInFrames:     3,
			QuietPeriodMS:     1200,
			CalibrationMS:     1200,
		},
		STT: STTConfig{
			Mode:           "mock",
			SampleRate:     16000,
			Channels:       1,
			PartialEveryMS: 800,
			PublishInterim: true,
		},
		TTS: TTSConfig{
			RemoteEnabled: true,
			Voices:        []string{"en-US-standard", "en-US-warm", "en-GB-standard"},
			SampleRate:    22050,
			Channels:      1,
		},
		Backend: BackendConfig{
			Mode:        "mock",
			Model:       "gemini-2.0-flash",
			MaxRetries:  4,
			TimeoutMS:   30000,
			Temperature: 0.7,
		},
		Interview: InterviewConfig{
			QuestionCount:   6,
			FollowUpEnabled: true,
			FollowUpWindow:  3,
			AutoStop:        true,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "INTERVIEWD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "INTERVIEWD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "INTERVIEWD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "INTERVIEWD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "INTERVIEWD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "INTERVIEWD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "INTERVIEWD_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "INTERVIEWD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "INTERVIEWD_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "INTERVIEWD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "INTERVIEWD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "INTERVIEWD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "INTERVIEWD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "INTERVIEWD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "INTERVIEWD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "INTERVIEWD_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "INTERVIEWD_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "INTERVIEWD_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "INTERVIEWD_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "INTERVIEWD_HISTORY_VACUUM_ON_START")
	overrideInt(&cfg.Media.HeartbeatTimeout, "INTERVIEWD_MEDIA_HEARTBEAT_TIMEOUT_MS")
	overrideBool(&cfg.Media.RequireVideo, "INTERVIEWD_MEDIA_REQUIRE_VIDEO")
	overrideInt(&cfg.Audio.SampleRate, "INTERVIEWD_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "INTERVIEWD_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BargeInFrames, "INTERVIEWD_AUDIO_BARGE_IN_FRAMES")
	overrideInt(&cfg.Audio.QuietPeriodMS, "INTERVIEWD_AUDIO_QUIET_PERIOD_MS")
	overrideInt(&cfg.Audio.CalibrationMS, "INTERVIEWD_AUDIO_CALIBRATION_MS")
	overrideString(&cfg.STT.Mode, "INTERVIEWD_STT_MODE")
	overrideString(&cfg.STT.Command, "INTERVIEWD_STT_COMMAND")
	overrideString(&cfg.STT.Endpoint, "INTERVIEWD_STT_ENDPOINT")
	overrideString(&cfg.STT.ModelPath, "INTERVIEWD_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "INTERVIEWD_STT_LANGUAGE")
	overrideInt(&cfg.STT.SampleRate, "INTERVIEWD_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "INTERVIEWD_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "INTERVIEWD_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "INTERVIEWD_STT_PUBLISH_INTERIM")
	overrideBool(&cfg.TTS.RemoteEnabled, "INTERVIEWD_TTS_REMOTE_ENABLED")
	overrideString(&cfg.TTS.LocalCommand, "INTERVIEWD_TTS_LOCAL_COMMAND")
	overrideStringSlice(&cfg.TTS.Voices, "INTERVIEWD_TTS_VOICES")
	overrideInt(&cfg.TTS.SampleRate, "INTERVIEWD_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "INTERVIEWD_TTS_CHANNELS")
	overrideString(&cfg.Backend.Mode, "INTERVIEWD_BACKEND_MODE")
	overrideString(&cfg.Backend.Endpoint, "INTERVIEWD_BACKEND_ENDPOINT")
	overrideString(&cfg.Backend.APIKey, "INTERVIEWD_BACKEND_API_KEY")
	overrideString(&cfg.Backend.Model, "INTERVIEWD_BACKEND_MODEL")
	overrideInt(&cfg.Backend.MaxRetries, "INTERVIEWD_BACKEND_MAX_RETRIES")
	overrideInt(&cfg.Backend.TimeoutMS, "INTERVIEWD_BACKEND_TIMEOUT_MS")
	overrideFloat(&cfg.Backend.Temperature, "INTERVIEWD_BACKEND_TEMPERATURE")
	overrideInt(&cfg.Interview.QuestionCount, "INTERVIEWD_INTERVIEW_QUESTION_COUNT")
	overrideBool(&cfg.Interview.FollowUpEnabled, "INTERVIEWD_INTERVIEW_FOLLOW_UP_ENABLED")
	overrideInt(&cfg.Interview.FollowUpWindow, "INTERVIEWD_INTERVIEW_FOLLOW_UP_WINDOW")
	overrideBool(&cfg.Interview.AutoStop, "INTERVIEWD_INTERVIEW_AUTO_STOP")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	if cfg.Media.HeartbeatTimeout <= 0 {
		return errors.New("media.heartbeat_timeout_ms must be positive")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.NoiseFloorWeight <= 0 || cfg.Audio.NoiseFloorWeight >= 1 {
		return errors.New("audio.noise_floor_weight must be in (0, 1)")
	}
	if cfg.Audio.NoiseFloorMin <= 0 || cfg.Audio.NoiseFloorMax <= cfg.Audio.NoiseFloorMin {
		return errors.New("audio.noise_floor_max must be greater than noise_floor_min")
	}
	if cfg.Audio.BargeInRatio <= 1 {
		return errors.New("audio.barge_in_ratio must be greater than 1")
	}
	if cfg.Audio.BargeInFrames <= 0 {
		return errors.New("audio.barge_in_frames must be >= 1")
	}
	if cfg.Audio.QuietPeriodMS <= 0 {
		return errors.New("audio.quiet_period_ms must be positive")
	}
	if cfg.Audio.CalibrationMS <= 0 {
		return errors.New("audio.calibration_ms must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("stt.mode must be one of mock|exec|http")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.Mode == "http" && cfg.STT.Endpoint == "" {
		return errors.New("stt.endpoint must be set when mode=http")
	}
	if cfg.STT.SampleRate <= 0 || cfg.STT.Channels <= 0 {
		return errors.New("stt.sample_rate and stt.channels must be positive")
	}
	if cfg.TTS.SampleRate <= 0 || cfg.TTS.Channels <= 0 {
		return errors.New("tts.sample_rate and tts.channels must be positive")
	}
	switch cfg.Backend.Mode {
	case "mock", "http":
	default:
		return errors.New("backend.mode must be one of mock|http")
	}
	if cfg.Backend.Mode == "http" && cfg.Backend.Endpoint == "" {
		return errors.New("backend.endpoint must be set when mode=http")
	}
	if cfg.Backend.MaxRetries < 0 {
		return errors.New("backend.max_retries must be >= 0")
	}
	if cfg.Interview.QuestionCount <= 0 {
		return errors.New("interview.question_count must be >= 1")
	}
	if cfg.Interview.FollowUpWindow < 0 {
		return errors.New("interview.follow_up_window must be >= 0")
	}
	return nil
}
