// Package config loads the driver's optional YAML configuration file,
// mirroring the field set of
// bear's source/intercept/source/Configuration.cc
// (output_file, library, wrapper, wrapper_dir, command, use_preload,
// use_wrapper, verbose). Flags passed on the command line always win over
// the file, matching the original's "flags override configuration"
// precedence.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of an intercept configuration file.
type Config struct {
	OutputFile string `yaml:"output_file"`
	Library    string `yaml:"library"`
	Wrapper    string `yaml:"wrapper"`
	WrapperDir string `yaml:"wrapper_dir"`
	Command    string `yaml:"command"`
	UsePreload *bool  `yaml:"use_preload"`
	UseWrapper *bool  `yaml:"use_wrapper"`
	Verbose    bool   `yaml:"verbose"`
	EventStore string `yaml:"event_store"`
}

// Load reads and parses a YAML configuration file. A missing file is not
// an error: it returns a zero-value Config so callers can layer flag
// defaults on top unconditionally.
func Load(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Merge returns a Config with every field of override set (non-zero)
// taking precedence over the receiver's corresponding field, modeling
// "command-line flags override the configuration file".
func (c Config) Merge(override Config) Config {
	out := c
	if override.OutputFile != "" {
		out.OutputFile = override.OutputFile
	}
	if override.Library != "" {
		out.Library = override.Library
	}
	if override.Wrapper != "" {
		out.Wrapper = override.Wrapper
	}
	if override.WrapperDir != "" {
		out.WrapperDir = override.WrapperDir
	}
	if override.Command != "" {
		out.Command = override.Command
	}
	if override.UsePreload != nil {
		out.UsePreload = override.UsePreload
	}
	if override.UseWrapper != nil {
		out.UseWrapper = override.UseWrapper
	}
	if override.Verbose {
		out.Verbose = true
	}
	if override.EventStore != "" {
		out.EventStore = override.EventStore
	}
	return out
}
