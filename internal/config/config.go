// Package config provides configuration management for CoachVisio
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Timer     TimerConfig     `mapstructure:"timer"`
	Dictation DictationConfig `mapstructure:"dictation"`
	Viseme    VisemeConfig    `mapstructure:"viseme"`
	Avatar    AvatarConfig    `mapstructure:"avatar"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LogDir    string          `mapstructure:"log_dir"`
}

// ServerConfig configures the HTTP surface
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OpenAIConfig configures the external AI collaborators
type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	ChatModel    string        `mapstructure:"chat_model"`
	SummaryModel string        `mapstructure:"summary_model"`
	TTSModel     string        `mapstructure:"tts_model"`
	STTModel     string        `mapstructure:"stt_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TimerConfig configures the session countdown
type TimerConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Tick     time.Duration `mapstructure:"tick"`
}

// DictationConfig configures continuous speech capture
type DictationConfig struct {
	Language      string        `mapstructure:"language"`
	SilenceWindow time.Duration `mapstructure:"silence_window"`
	RestartMin    time.Duration `mapstructure:"restart_min"` // restart debounce floor
	RestartMax    time.Duration `mapstructure:"restart_max"` // restart backoff ceiling
}

// VisemeConfig configures the audio-to-mouth animation pipeline
type VisemeConfig struct {
	FFTSize    int     `mapstructure:"fft_size"`
	BandLowHz  float64 `mapstructure:"band_low_hz"`
	BandHighHz float64 `mapstructure:"band_high_hz"`
	NoiseFloor float64 `mapstructure:"noise_floor"`
	Gain       float64 `mapstructure:"gain"`
	Smoothing  float64 `mapstructure:"smoothing"`
	FrameRate  int     `mapstructure:"frame_rate"`
}

// AvatarConfig configures the 3D avatar asset
type AvatarConfig struct {
	ModelPath   string `mapstructure:"model_path"`
	MouthTarget string `mapstructure:"mouth_target"`
}

// ReportsConfig configures report persistence
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// BudgetConfig configures the session time allowance
type BudgetConfig struct {
	Total time.Duration `mapstructure:"total"`
	File  string        `mapstructure:"file"`
}

// AuthConfig holds the single hard-coded credential pair and session cookie
type AuthConfig struct {
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	CookieName string `mapstructure:"cookie_name"`
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".coachvisio")
}

func setDefaults(v *viper.Viper) {
	dir := configDir()

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0) // streaming responses
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.summary_model", "gpt-4o-mini")
	v.SetDefault("openai.tts_model", "gpt-4o-mini-tts")
	v.SetDefault("openai.stt_model", "whisper-1")
	v.SetDefault("openai.timeout", 60*time.Second)

	v.SetDefault("timer.duration", 15*time.Minute)
	v.SetDefault("timer.tick", 250*time.Millisecond)

	v.SetDefault("dictation.language", "fr-FR")
	v.SetDefault("dictation.silence_window", 10*time.Second)
	v.SetDefault("dictation.restart_min", 500*time.Millisecond)
	v.SetDefault("dictation.restart_max", 8*time.Second)

	v.SetDefault("viseme.fft_size", 2048)
	v.SetDefault("viseme.band_low_hz", 80.0)
	v.SetDefault("viseme.band_high_hz", 1000.0)
	v.SetDefault("viseme.noise_floor", 0.02)
	v.SetDefault("viseme.gain", 3.0)
	v.SetDefault("viseme.smoothing", 0.1)
	v.SetDefault("viseme.frame_rate", 60)

	v.SetDefault("avatar.model_path", "assets/avatar.glb")
	v.SetDefault("avatar.mouth_target", "mouthOpen")

	v.SetDefault("reports.dir", filepath.Join("data", "reports"))

	v.SetDefault("budget.total", 15*time.Minute)
	v.SetDefault("budget.file", filepath.Join(dir, "budget.json"))

	v.SetDefault("auth.username", "Test")
	v.SetDefault("auth.password", "Test")
	v.SetDefault("auth.cookie_name", "coachvisio-session")

	v.SetDefault("log_dir", filepath.Join(dir, "logs"))
}

// Load reads configuration from ~/.coachvisio/config.yaml (created paths are
// optional) plus COACHVISIO_* environment overrides.
func Load() (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir())
	v.AddConfigPath(".")

	v.SetEnvPrefix("coachvisio")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; anything else is not.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, err
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, nil, err
	}

	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return cfg, v, nil
}

// Watch re-reads the config file on change and hands the fresh Config to
// onChange. Used for live tuning of the viseme gain and noise floor.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
