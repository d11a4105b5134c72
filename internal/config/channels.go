package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChannelConfig binds a channel name to a driver kind and its settings.
type ChannelConfig struct {
	Driver   string            `yaml:"driver"`
	Settings map[string]string `yaml:"config"`
}

type channelsFile struct {
	Channels map[string]ChannelConfig `yaml:"channels"`
}

// LoadChannels reads a YAML channel map:
//
//	channels:
//	  telegram:
//	    driver: bot
//	    config:
//	      bot_token: "..."
func LoadChannels(path string) (map[string]ChannelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read drivers config: %w", err)
	}
	return ParseChannels(raw)
}

// ParseChannels decodes a YAML channel map. Environment references such as
// ${BOT_TOKEN} in settings are expanded.
func ParseChannels(raw []byte) (map[string]ChannelConfig, error) {
	var file channelsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse drivers config: %w", err)
	}
	if len(file.Channels) == 0 {
		return nil, fmt.Errorf("drivers config defines no channels")
	}

	channels := make(map[string]ChannelConfig, len(file.Channels))
	for name, ch := range file.Channels {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("drivers config has a channel without a name")
		}
		if strings.TrimSpace(ch.Driver) == "" {
			return nil, fmt.Errorf("channel %q has no driver", name)
		}

		settings := make(map[string]string, len(ch.Settings))
		for k, v := range ch.Settings {
			settings[k] = os.ExpandEnv(v)
		}
		channels[name] = ChannelConfig{
			Driver:   strings.ToLower(strings.TrimSpace(ch.Driver)),
			Settings: settings,
		}
	}

	return channels, nil
}
