package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingAPIKey is returned by Validate when the gemini provider has no key.
var ErrMissingAPIKey = errors.New("missing required environment variable: GEMINI_API_KEY")

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Loops      LoopsConfig      `yaml:"loops"`
	Flight     FlightConfig     `yaml:"flight"`
	Detector   DetectorConfig   `yaml:"detector"`
	Narrator   NarratorConfig   `yaml:"narrator"`
	Voice      VoiceConfig      `yaml:"voice"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	LLM        LLMConfig        `yaml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Development    bool     `yaml:"development"` // echo any Origin (CORS)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server    LogSettings `yaml:"server"`
	Narration LogSettings `yaml:"narration"`
}

// LogSettings holds settings for a single log file.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// CatalogConfig selects where POIs and zones are loaded from.
type CatalogConfig struct {
	Source    string `yaml:"source"`     // "embedded", "json", "sqlite"
	POIPath   string `yaml:"poi_path"`   // JSON file (source: json)
	ZonesPath string `yaml:"zones_path"` // GeoJSON file (source: json)
	DBPath    string `yaml:"db_path"`    // SQLite file (source: sqlite)
}

// LoopsConfig holds the cadences of the flying-phase loops.
type LoopsConfig struct {
	FrameInterval         Duration `yaml:"frame_interval"`
	TrailInterval         Duration `yaml:"trail_interval"`
	PoseBroadcastInterval Duration `yaml:"pose_broadcast_interval"`
}

// BoundsConfig is the operational lat/lon box.
type BoundsConfig struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
}

// FlightConfig holds the flight model rate constants.
type FlightConfig struct {
	StartLat     float64      `yaml:"start_lat"`
	StartLon     float64      `yaml:"start_lon"`
	StartAlt     float64      `yaml:"start_alt"`
	StartHeading float64      `yaml:"start_heading"`
	MaxStep      Duration     `yaml:"max_step"`
	Acceleration float64      `yaml:"acceleration"`  // km/h per second
	Deceleration float64      `yaml:"deceleration"`  // km/h per second
	YawRate      float64      `yaml:"yaw_rate"`      // deg per second
	MaxRoll      float64      `yaml:"max_roll"`      // deg
	RollRate     float64      `yaml:"roll_rate"`     // deg per second
	ClimbRate    float64      `yaml:"climb_rate"`    // m per second
	MaxPitch     float64      `yaml:"max_pitch"`     // deg
	PitchRate    float64      `yaml:"pitch_rate"`    // deg per second
	InertiaDecay float64      `yaml:"inertia_decay"` // per-tick multiplier for roll/pitch release
	MinSpeed     float64      `yaml:"min_speed"`     // km/h
	MaxSpeed     float64      `yaml:"max_speed"`     // km/h
	MinAlt       float64      `yaml:"min_alt"`       // m
	MaxAlt       float64      `yaml:"max_alt"`       // m
	EdgePenalty  float64      `yaml:"edge_penalty"`  // speed multiplier when clamped
	TrailCap     int          `yaml:"trail_cap"`
	Bounds       BoundsConfig `yaml:"bounds"`
}

// DetectorConfig holds POI detection settings.
type DetectorConfig struct {
	Interval           Duration `yaml:"interval"`
	FOVDeg             float64  `yaml:"fov_deg"`
	MaxRange           Distance `yaml:"max_range"`
	NearThreshold      Distance `yaml:"near_threshold"`
	ProximityThreshold Distance `yaml:"proximity_threshold"`
}

// NarratorConfig holds narration scheduling settings.
type NarratorConfig struct {
	Cooldown          Duration `yaml:"cooldown"`
	ReplayDelay       Duration `yaml:"replay_delay"`
	SpeechTimeout     Duration `yaml:"speech_timeout"`
	MaxSpeechDuration Duration `yaml:"max_speech_duration"`
	HistorySize       int      `yaml:"history_size"`
	RunnersUp         int      `yaml:"runners_up"`
	CallTimeout       Duration `yaml:"call_timeout"`
}

// VoiceConfig holds voice interaction settings.
type VoiceConfig struct {
	MaxListen      Duration `yaml:"max_listen"`
	SilenceTimeout Duration `yaml:"silence_timeout"`
	NearbyRadius   Distance `yaml:"nearby_radius"`
	NearbyLimit    int      `yaml:"nearby_limit"`
	ResponseHold   Duration `yaml:"response_hold"`
	SpeechTimeout  Duration `yaml:"speech_timeout"`
	CallTimeout    Duration `yaml:"call_timeout"`
}

// RateRule is the limit applied to one rate-limiter key.
type RateRule struct {
	MinInterval  Duration `yaml:"min_interval"`
	MaxPerMinute int      `yaml:"max_per_minute"`
}

// RateLimitsConfig holds per-key limiter rules.
type RateLimitsConfig struct {
	Keys                 map[string]RateRule `yaml:"keys"`
	Default              RateRule            `yaml:"default"`
	HousekeepingInterval Duration            `yaml:"housekeeping_interval"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold  int      `yaml:"failure_threshold"`
	RecoveryTimeout   Duration `yaml:"recovery_timeout"`
	HalfOpenSuccesses int      `yaml:"half_open_successes"`
}

// LLMConfig holds settings for the text generation provider.
type LLMConfig struct {
	Provider          string  `yaml:"provider"` // "gemini", "mock"
	Model             string  `yaml:"model"`
	Key               string  `yaml:"key"`
	BackupKey         string  `yaml:"backup_key"`
	Temperature       float32 `yaml:"temperature"`        // narration only, 0 = provider default
	TemperatureJitter float32 `yaml:"temperature_jitter"` // spread around Temperature
	LogPath           string  `yaml:"log_path"`           // prompt/response log, empty disables
	PromptsDir        string  `yaml:"prompts_dir"`        // template override directory, empty uses built-ins
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "localhost:8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Server:    LogSettings{Path: "logs/server.log", Level: "INFO"},
			Narration: LogSettings{Path: "logs/narration.log", Level: "INFO"},
		},
		Catalog: CatalogConfig{
			Source:    "embedded",
			POIPath:   "data/pois.json",
			ZonesPath: "data/zones.geojson",
			DBPath:    "data/catalog.db",
		},
		Loops: LoopsConfig{
			FrameInterval:         Duration(16 * time.Millisecond),
			TrailInterval:         Duration(500 * time.Millisecond),
			PoseBroadcastInterval: Duration(100 * time.Millisecond),
		},
		Flight: FlightConfig{
			StartLat:     37.5219,
			StartLon:     126.9245,
			StartAlt:     0,
			StartHeading: 90,
			MaxStep:      Duration(100 * time.Millisecond),
			Acceleration: 25,
			Deceleration: 20,
			YawRate:      45,
			MaxRoll:      30,
			RollRate:     60,
			ClimbRate:    40,
			MaxPitch:     15,
			PitchRate:    30,
			InertiaDecay: 0.95,
			MinSpeed:     30,
			MaxSpeed:     350,
			MinAlt:       30,
			MaxAlt:       800,
			EdgePenalty:  0.95,
			TrailCap:     2000,
			Bounds: BoundsConfig{
				MinLat: 37.42, MaxLat: 37.70,
				MinLon: 126.76, MaxLon: 127.18,
			},
		},
		Detector: DetectorConfig{
			Interval:           Duration(2 * time.Second),
			FOVDeg:             120,
			MaxRange:           3000,
			NearThreshold:      1000,
			ProximityThreshold: 500,
		},
		Narrator: NarratorConfig{
			Cooldown:          Duration(10 * time.Second),
			ReplayDelay:       Duration(2 * time.Second),
			SpeechTimeout:     Duration(10 * time.Second),
			MaxSpeechDuration: Duration(60 * time.Second),
			HistorySize:       3,
			RunnersUp:         2,
			CallTimeout:       Duration(5 * time.Second),
		},
		Voice: VoiceConfig{
			MaxListen:      Duration(10 * time.Second),
			SilenceTimeout: Duration(3 * time.Second),
			NearbyRadius:   5000,
			NearbyLimit:    5,
			ResponseHold:   Duration(2 * time.Second),
			SpeechTimeout:  Duration(8 * time.Second),
			CallTimeout:    Duration(7 * time.Second),
		},
		RateLimits: RateLimitsConfig{
			Keys: map[string]RateRule{
				"gemini":      {MinInterval: Duration(10 * time.Second), MaxPerMinute: 6},
				"voice-guide": {MinInterval: Duration(5 * time.Second), MaxPerMinute: 10},
				"tts":         {MinInterval: Duration(1 * time.Second), MaxPerMinute: 30},
			},
			Default:              RateRule{MinInterval: Duration(5 * time.Second), MaxPerMinute: 10},
			HousekeepingInterval: Duration(5 * time.Minute),
		},
		Breaker: BreakerConfig{
			FailureThreshold:  3,
			RecoveryTimeout:   Duration(30 * time.Second),
			HalfOpenSuccesses: 1,
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			Model:             "gemini-2.0-flash",
			Temperature:       0.9,
			TemperatureJitter: 0.2,
			LogPath:           "logs/gemini.log",
		},
	}
}

// Load reads the configuration from path, creating it with defaults if missing.
// Values found in the environment (and an optional .env next to the working
// directory) fill in secrets that the file leaves empty.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables are not overwritten.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// ApplyEnv fills secrets and origins from the environment. Env values are
// never written back to disk.
func ApplyEnv(cfg *Config) {
	if cfg.LLM.Key == "" {
		cfg.LLM.Key = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.LLM.BackupKey == "" {
		cfg.LLM.BackupKey = os.Getenv("GEMINI_API_KEY_BACKUP")
	}
	if origin := strings.TrimSpace(os.Getenv("SKYTOUR_ALLOWED_ORIGIN")); origin != "" {
		for _, o := range cfg.Server.AllowedOrigins {
			if o == origin {
				return
			}
		}
		cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, origin)
	}
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.LLM.Provider == "gemini" && c.LLM.Key == "" {
		return ErrMissingAPIKey
	}
	switch c.Catalog.Source {
	case "embedded", "json", "sqlite":
	default:
		return fmt.Errorf("invalid catalog source %q: must be embedded, json or sqlite", c.Catalog.Source)
	}
	b := c.Flight.Bounds
	if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
		return fmt.Errorf("invalid flight bounds: %+v", b)
	}
	if c.Flight.MinSpeed > c.Flight.MaxSpeed || c.Flight.MinAlt > c.Flight.MaxAlt {
		return fmt.Errorf("invalid flight envelope: speed [%v,%v] alt [%v,%v]",
			c.Flight.MinSpeed, c.Flight.MaxSpeed, c.Flight.MinAlt, c.Flight.MaxAlt)
	}
	return nil
}

// Save writes the configuration to path, omitting secrets.
func Save(path string, cfg *Config) error {
	out := *cfg
	out.LLM.Key = ""
	out.LLM.BackupKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Skytour Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles)
# Secrets: GEMINI_API_KEY / GEMINI_API_KEY_BACKUP are read from the environment or .env

`)
	data = append(header, data...)

	reSource := regexp.MustCompile(`(?m)^(\s+)source:`)
	data = reSource.ReplaceAll(data, []byte("${1}# Options: embedded, json, sqlite\n${1}source:"))

	reProvider := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProvider.ReplaceAll(data, []byte("${1}# Options: gemini, mock\n${1}provider:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault writes the default config to path if no file exists yet.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}

// Rule returns the limiter rule for key, or the default rule.
func (c *RateLimitsConfig) Rule(key string) RateRule {
	if r, ok := c.Keys[key]; ok {
		return r
	}
	return c.Default
}
