// Package config reads the flatvm configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the contents of a flatvm config file. Command line flags override it.
type Config struct {

	// Kernel is a path or http(s) URL of the kernel image.
	Kernel string `yaml:"kernel"`

	// MemSizeMiB is the size of guest memory in MiB.
	MemSizeMiB int `yaml:"mem_size_mib"`

	// LockMemory locks guest memory into RAM.
	LockMemory bool `yaml:"lock_memory"`

	// LogLevel is the minimum level of log messages written to stderr.
	LogLevel Level `yaml:"log_level"`

	// SerialOut is where guest serial output goes: "stdout", "stderr", or a
	// file path.
	SerialOut string `yaml:"serial_out"`
}

const (
	DefaultMemSizeMiB = 256
	DefaultSerialOut  = "stdout"

	// MaxMemSizeMiB is 1T.
	MaxMemSizeMiB = 1 << 20
)

var ErrInvalid = errors.New("config: invalid")

// Default returns the configuration used when there is no config file.
func Default() Config {
	return Config{
		MemSizeMiB: DefaultMemSizeMiB,
		LogLevel:   Level(slog.LevelInfo),
		SerialOut:  DefaultSerialOut,
	}
}

// Load reads the config file at path. Fields the file doesn't set keep their
// Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MemSizeMiB < 1 || c.MemSizeMiB > MaxMemSizeMiB {
		return fmt.Errorf("%w: mem_size_mib %d is out of range [1, %d]", ErrInvalid, c.MemSizeMiB, MaxMemSizeMiB)
	}

	if c.SerialOut == "" {
		return fmt.Errorf("%w: serial_out is empty", ErrInvalid)
	}

	return nil
}

// MemSize is the size of guest memory in bytes.
func (c Config) MemSize() int {
	return c.MemSizeMiB << 20
}

// Write encodes c as YAML.
func (c Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return err
	}

	return enc.Close()
}

// Level wraps slog.Level for YAML.
type Level slog.Level

// UnmarshalYAML implements yaml.Unmarshaler for Level. It accepts the names
// slog.Level understands, like "debug" or "warn+2".
func (l *Level) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return fmt.Errorf("%w: log_level: %w", ErrInvalid, err)
	}

	*l = Level(lvl)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Level.
func (l Level) MarshalYAML() (any, error) {
	return slog.Level(l).String(), nil
}

// Level returns the slog.Level value.
func (l Level) Level() slog.Level {
	return slog.Level(l)
}
