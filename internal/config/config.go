// ABOUTME: YAML configuration with STEREOFIELD_* environment overrides
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port             int    `yaml:"port"`
	AudioRoot        string `yaml:"audio_root"`
	PersistPath      string `yaml:"persist_path"`
	IndexPath        string `yaml:"index_path"`
	FetcherBinary    string `yaml:"fetcher_binary"`
	TranscoderBinary string `yaml:"transcoder_binary"`
	ProbeBinary      string `yaml:"probe_binary"`
	LogLevel         string `yaml:"log_level"`
}

func defaults() Config {
	return Config{
		Port:             8080,
		AudioRoot:        "./library",
		PersistPath:      "./sessions.json",
		IndexPath:        "./tracks.db",
		FetcherBinary:    "stereofield-fetcher",
		TranscoderBinary: "ffmpeg",
		ProbeBinary:      "ffprobe",
		LogLevel:         "info",
	}
}

// Load reads path (if non-empty) as YAML over a defaulted config, then
// applies STEREOFIELD_* environment overrides. A missing path is not an
// error; the caller is expected to run entirely off env vars or defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.AudioRoot == "" {
		return nil, fmt.Errorf("audio_root must not be empty")
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEREOFIELD_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v := os.Getenv("STEREOFIELD_AUDIO_ROOT"); v != "" {
		cfg.AudioRoot = v
	}
	if v := os.Getenv("STEREOFIELD_PERSIST_PATH"); v != "" {
		cfg.PersistPath = v
	}
	if v := os.Getenv("STEREOFIELD_INDEX_PATH"); v != "" {
		cfg.IndexPath = v
	}
	if v := os.Getenv("STEREOFIELD_FETCHER_BINARY"); v != "" {
		cfg.FetcherBinary = v
	}
	if v := os.Getenv("STEREOFIELD_TRANSCODER_BINARY"); v != "" {
		cfg.TranscoderBinary = v
	}
	if v := os.Getenv("STEREOFIELD_PROBE_BINARY"); v != "" {
		cfg.ProbeBinary = v
	}
	if v := os.Getenv("STEREOFIELD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
