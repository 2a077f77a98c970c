package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PluginSetting overrides the registration defaults of one plugin.
type PluginSetting struct {
	Enabled   *bool         `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	RateLimit float64       `yaml:"rate_limit"`
}

// PluginSettings is the parsed per-plugin settings file:
//
//	plugins:
//	  emotion_api:
//	    enabled: true
//	    interval: 2s
type PluginSettings struct {
	Plugins map[string]PluginSetting `yaml:"plugins"`
}

// ParsePluginSettings decodes and checks a settings document.
func ParsePluginSettings(data []byte) (*PluginSettings, error) {
	var s PluginSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse plugin settings: %w", err)
	}
	for name, p := range s.Plugins {
		if p.Interval < 0 {
			return nil, fmt.Errorf("plugin %s: interval must not be negative", name)
		}
		if p.RateLimit < 0 {
			return nil, fmt.Errorf("plugin %s: rate_limit must not be negative", name)
		}
	}
	if s.Plugins == nil {
		s.Plugins = map[string]PluginSetting{}
	}
	return &s, nil
}

// LoadPluginSettings reads the settings file. An empty path yields empty
// settings; a missing file is an error.
func LoadPluginSettings(path string) (*PluginSettings, error) {
	if path == "" {
		return &PluginSettings{Plugins: map[string]PluginSetting{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin settings: %w", err)
	}
	return ParsePluginSettings(data)
}

// IsMissing reports whether err means the settings file does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
