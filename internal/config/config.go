package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind          string `yaml:"bind"`
	Port          int    `yaml:"port"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	ShutdownGrace int    `yaml:"shutdown_grace_ms"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Store       StoreConfig      `yaml:"store"`
	Uploads     UploadsConfig    `yaml:"uploads"`
	Inbox       InboxConfig      `yaml:"inbox"`
	LLM         LLMConfig        `yaml:"llm"`
	Summarizer  SummarizerConfig `yaml:"summarizer"`
	TTS         TTSConfig        `yaml:"tts"`
	Podcast     PodcastConfig    `yaml:"podcast"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type StoreConfig struct {
	Path          string `yaml:"path"`
	ResetOnStart  bool   `yaml:"reset_on_start"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type UploadsConfig struct {
	Dir string `yaml:"dir"`
}

type InboxConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // openai, ollama, exec, mock
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type SummarizerConfig struct {
	ChunkChars     int    `yaml:"chunk_chars"`
	UnifyThreshold int    `yaml:"unify_threshold"`
	Parallelism    int    `yaml:"parallelism"`
	Probe          bool   `yaml:"probe"`
	SystemPrompt   string `yaml:"system_prompt"`
}

type TTSConfig struct {
	Mode            string  `yaml:"mode"` // elevenlabs, exec, mock
	Endpoint        string  `yaml:"endpoint"`
	APIKey          string  `yaml:"api_key"`
	Command         string  `yaml:"command"`
	ModelID         string  `yaml:"model_id"`
	OutputFormat    string  `yaml:"output_format"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	SampleRate      int     `yaml:"sample_rate"`
	TimeoutMS       int     `yaml:"timeout_ms"`
}

type PodcastConfig struct {
	Enabled           bool             `yaml:"enabled"`
	OutputDir         string           `yaml:"output_dir"`
	FinalName         string           `yaml:"final_name"`
	Format            string           `yaml:"format"` // mp3, wav
	Parallelism       int              `yaml:"parallelism"`
	QueueSize         int              `yaml:"queue_size"`
	ScriptModel       string           `yaml:"script_model"`
	ScriptTemperature float64          `yaml:"script_temperature"`
	ScriptMaxTokens   int              `yaml:"script_max_tokens"`
	JobTimeoutMS      int              `yaml:"job_timeout_ms"`
	Speakers          []SpeakerProfile `yaml:"speakers"`
}

// SpeakerProfile binds a dialogue speaker label to a synthesis voice.
type SpeakerProfile struct {
	Label       string `yaml:"label"`
	Personality string `yaml:"personality"`
	VoiceID     string `yaml:"voice_id"`
}

func Default() Config {
	return Config{
		RuntimeName: "papercast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:          "0.0.0.0",
			Port:          8080,
			MaxUploadMB:   16,
			ShutdownGrace: 10000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Store: StoreConfig{
			Path: "./data/pdf_summaries.db",
		},
		Uploads: UploadsConfig{
			Dir: "./data/uploads",
		},
		Inbox: InboxConfig{
			Enabled:       false,
			Dir:           "./data/inbox",
			MaxConcurrent: 2,
		},
		LLM: LLMConfig{
			Mode:        "openai",
			Endpoint:    "https://api.groq.com/openai/v1",
			Model:       "llama3-70b-8192",
			MaxTokens:   1000,
			Temperature: 0.3,
			TimeoutMS:   120000,
		},
		Summarizer: SummarizerConfig{
			ChunkChars:     8000,
			UnifyThreshold: 4000,
			Parallelism:    1,
			Probe:          true,
			SystemPrompt:   "You are a professional document summarizer. Provide clear, accurate, and concise summaries.",
		},
		TTS: TTSConfig{
			Mode:            "elevenlabs",
			Endpoint:        "https://api.elevenlabs.io",
			ModelID:         "eleven_multilingual_v2",
			OutputFormat:    "mp3_44100_128",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			SampleRate:      22050,
			TimeoutMS:       60000,
		},
		Podcast: PodcastConfig{
			Enabled:           true,
			OutputDir:         "./data/audio",
			FinalName:         "final_podcast",
			Format:            "mp3",
			Parallelism:       1,
			QueueSize:         16,
			ScriptModel:       "llama3-8b-8192",
			ScriptTemperature: 0.7,
			ScriptMaxTokens:   4096,
			JobTimeoutMS:      600000,
			Speakers: []SpeakerProfile{
				{Label: "Speaker 1", Personality: "curious host who asks sharp, friendly questions", VoiceID: "pNInz6obpgDQGcFmaJgB"},
				{Label: "Speaker 2", Personality: "knowledgeable guest who explains with concrete examples", VoiceID: "21m00Tcm4TlvDq8ikWAM"},
			},
		},
	}
}

// LoadDotEnv populates the process environment from a dotenv file.
// Variables already set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
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
	overrideString(&cfg.RuntimeName, "PAPERCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PAPERCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PAPERCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PAPERCAST_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "PAPERCAST_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "PAPERCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PAPERCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PAPERCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "PAPERCAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "PAPERCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PAPERCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "PAPERCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "PAPERCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PAPERCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PAPERCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PAPERCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PAPERCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PAPERCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Store.Path, "PAPERCAST_STORE_PATH")
	overrideBool(&cfg.Store.ResetOnStart, "PAPERCAST_STORE_RESET_ON_START")
	overrideBool(&cfg.Store.VacuumOnStart, "PAPERCAST_STORE_VACUUM_ON_START")
	overrideString(&cfg.Uploads.Dir, "PAPERCAST_UPLOADS_DIR")
	overrideBool(&cfg.Inbox.Enabled, "PAPERCAST_INBOX_ENABLED")
	overrideString(&cfg.Inbox.Dir, "PAPERCAST_INBOX_DIR")
	overrideInt(&cfg.Inbox.MaxConcurrent, "PAPERCAST_INBOX_MAX_CONCURRENT")
	overrideString(&cfg.LLM.Mode, "PAPERCAST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "PAPERCAST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "GROQ_API_KEY")
	overrideString(&cfg.LLM.APIKey, "PAPERCAST_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "PAPERCAST_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "PAPERCAST_LLM_MODEL")
	overrideInt(&cfg.LLM.MaxTokens, "PAPERCAST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "PAPERCAST_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "PAPERCAST_LLM_TIMEOUT_MS")
	overrideInt(&cfg.Summarizer.ChunkChars, "PAPERCAST_SUMMARIZER_CHUNK_CHARS")
	overrideInt(&cfg.Summarizer.UnifyThreshold, "PAPERCAST_SUMMARIZER_UNIFY_THRESHOLD")
	overrideInt(&cfg.Summarizer.Parallelism, "PAPERCAST_SUMMARIZER_PARALLELISM")
	overrideBool(&cfg.Summarizer.Probe, "PAPERCAST_SUMMARIZER_PROBE")
	overrideString(&cfg.TTS.Mode, "PAPERCAST_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "PAPERCAST_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.TTS.APIKey, "PAPERCAST_TTS_API_KEY")
	overrideString(&cfg.TTS.Command, "PAPERCAST_TTS_COMMAND")
	overrideString(&cfg.TTS.ModelID, "PAPERCAST_TTS_MODEL_ID")
	overrideString(&cfg.TTS.OutputFormat, "PAPERCAST_TTS_OUTPUT_FORMAT")
	overrideFloat(&cfg.TTS.Stability, "PAPERCAST_TTS_STABILITY")
	overrideFloat(&cfg.TTS.SimilarityBoost, "PAPERCAST_TTS_SIMILARITY_BOOST")
	overrideInt(&cfg.TTS.SampleRate, "PAPERCAST_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.TimeoutMS, "PAPERCAST_TTS_TIMEOUT_MS")
	overrideBool(&cfg.Podcast.Enabled, "PAPERCAST_PODCAST_ENABLED")
	overrideString(&cfg.Podcast.OutputDir, "PAPERCAST_PODCAST_OUTPUT_DIR")
	overrideString(&cfg.Podcast.FinalName, "PAPERCAST_PODCAST_FINAL_NAME")
	overrideString(&cfg.Podcast.Format, "PAPERCAST_PODCAST_FORMAT")
	overrideInt(&cfg.Podcast.Parallelism, "PAPERCAST_PODCAST_PARALLELISM")
	overrideInt(&cfg.Podcast.QueueSize, "PAPERCAST_PODCAST_QUEUE_SIZE")
	overrideString(&cfg.Podcast.ScriptModel, "PAPERCAST_PODCAST_SCRIPT_MODEL")
	overrideFloat(&cfg.Podcast.ScriptTemperature, "PAPERCAST_PODCAST_SCRIPT_TEMPERATURE")
	overrideInt(&cfg.Podcast.ScriptMaxTokens, "PAPERCAST_PODCAST_SCRIPT_MAX_TOKENS")
	overrideInt(&cfg.Podcast.JobTimeoutMS, "PAPERCAST_PODCAST_JOB_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	if cfg.Uploads.Dir == "" {
		return errors.New("uploads.dir must not be empty")
	}
	if cfg.Inbox.Enabled {
		if cfg.Inbox.Dir == "" {
			return errors.New("inbox.dir must not be empty when the inbox is enabled")
		}
		if cfg.Inbox.MaxConcurrent <= 0 {
			return errors.New("inbox.max_concurrent must be >= 1")
		}
	}

	switch cfg.LLM.Mode {
	case "openai", "ollama", "exec", "mock":
	default:
		return errors.New("llm.mode must be one of openai|ollama|exec|mock")
	}
	if (cfg.LLM.Mode == "openai" || cfg.LLM.Mode == "ollama") && cfg.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}

	if cfg.Summarizer.ChunkChars < 1 {
		return errors.New("summarizer.chunk_chars must be >= 1")
	}
	if cfg.Summarizer.UnifyThreshold < 0 {
		return errors.New("summarizer.unify_threshold must be >= 0")
	}
	if cfg.Summarizer.Parallelism < 1 {
		return errors.New("summarizer.parallelism must be >= 1")
	}

	switch cfg.TTS.Mode {
	case "elevenlabs", "exec", "mock":
	default:
		return errors.New("tts.mode must be one of elevenlabs|exec|mock")
	}
	if cfg.TTS.Mode == "elevenlabs" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=elevenlabs")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Stability < 0 || cfg.TTS.Stability > 1 {
		return errors.New("tts.stability must be between 0 and 1")
	}
	if cfg.TTS.SimilarityBoost < 0 || cfg.TTS.SimilarityBoost > 1 {
		return errors.New("tts.similarity_boost must be between 0 and 1")
	}
	if cfg.TTS.Mode == "mock" && cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}

	if cfg.Podcast.OutputDir == "" {
		return errors.New("podcast.output_dir must not be empty")
	}
	if cfg.Podcast.FinalName == "" || strings.ContainsAny(cfg.Podcast.FinalName, `/\`) {
		return errors.New("podcast.final_name must be a bare file name")
	}
	switch cfg.Podcast.Format {
	case "mp3", "wav":
	default:
		return errors.New("podcast.format must be one of mp3|wav")
	}
	if cfg.Podcast.Parallelism < 1 {
		return errors.New("podcast.parallelism must be >= 1")
	}
	if cfg.Podcast.QueueSize < 1 {
		return errors.New("podcast.queue_size must be >= 1")
	}
	if len(cfg.Podcast.Speakers) == 0 {
		return errors.New("podcast.speakers must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Podcast.Speakers))
	for _, sp := range cfg.Podcast.Speakers {
		if sp.Label == "" || sp.VoiceID == "" {
			return errors.New("podcast.speakers entries need a label and voice_id")
		}
		if _, dup := seen[sp.Label]; dup {
			return fmt.Errorf("podcast.speakers label %q is duplicated", sp.Label)
		}
		seen[sp.Label] = struct{}{}
	}
	switch cfg.TTS.Mode {
	case "mock":
		if cfg.Podcast.Format != "wav" {
			return errors.New("podcast.format must be wav when tts.mode=mock")
		}
	case "elevenlabs":
		if cfg.Podcast.Format != "mp3" || !strings.HasPrefix(cfg.TTS.OutputFormat, "mp3_") {
			return errors.New("podcast.format must be mp3 with an mp3_* tts.output_format when tts.mode=elevenlabs")
		}
	}
	return nil
}
