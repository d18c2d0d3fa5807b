package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/ibus-bridge/internal/serialmux"
)

// Output destinations for decoded packets.
const (
	OutputStdout = "stdout"
	OutputNone   = "none"
)

// BridgeConfig is the on-disk configuration of the bus bridge. Every field is
// optional; the Get* methods supply defaults for anything left unset.
type BridgeConfig struct {
	Port         *string `json:"port,omitempty" toml:"port"`
	BaudRate     *int    `json:"baud_rate,omitempty" toml:"baud_rate"`
	DataBits     *int    `json:"data_bits,omitempty" toml:"data_bits"`
	StopBits     *int    `json:"stop_bits,omitempty" toml:"stop_bits"`
	Parity       *string `json:"parity,omitempty" toml:"parity"`
	ReadTimeout  *string `json:"read_timeout,omitempty" toml:"read_timeout"` // duration string like "1s"
	MaxReadBytes *int    `json:"max_read_bytes,omitempty" toml:"max_read_bytes"`
	Debug        *bool   `json:"debug,omitempty" toml:"debug"`
	Output       *string `json:"output,omitempty" toml:"output"`
}

// LoadBridgeConfig loads a BridgeConfig from a .json or .toml file and
// validates it.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &BridgeConfig{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config keys: %v", undecoded)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Port != nil && strings.TrimSpace(*c.Port) == "" {
		return fmt.Errorf("port must not be empty")
	}

	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %s", d)
		}
	}

	if c.MaxReadBytes != nil && (*c.MaxReadBytes < 1 || *c.MaxReadBytes > 1<<20) {
		return fmt.Errorf("max_read_bytes must be between 1 and %d, got %d", 1<<20, *c.MaxReadBytes)
	}

	if c.Output != nil {
		switch *c.Output {
		case OutputStdout, OutputNone:
		default:
			return fmt.Errorf("output must be %q or %q, got %q", OutputStdout, OutputNone, *c.Output)
		}
	}

	if _, err := c.PortOptions().Normalise(); err != nil {
		return err
	}
	return nil
}

// GetPort returns the serial device path or the default.
func (c *BridgeConfig) GetPort() string {
	if c.Port == nil || *c.Port == "" {
		return serialmux.DefaultPortPath
	}
	return *c.Port
}

// GetReadTimeout parses and returns the ReadTimeout as a time.Duration.
func (c *BridgeConfig) GetReadTimeout() time.Duration {
	if c.ReadTimeout == nil || *c.ReadTimeout == "" {
		return serialmux.DefaultReadTimeout
	}
	d, err := time.ParseDuration(*c.ReadTimeout)
	if err != nil || d <= 0 {
		return serialmux.DefaultReadTimeout
	}
	return d
}

// GetMaxReadBytes returns the per-read byte limit or the default.
func (c *BridgeConfig) GetMaxReadBytes() int {
	if c.MaxReadBytes == nil {
		return serialmux.DefaultMaxReadBytes
	}
	return *c.MaxReadBytes
}

// GetDebug returns the debug flag or the default (off).
func (c *BridgeConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetOutput returns where decoded packets go, stdout by default.
func (c *BridgeConfig) GetOutput() string {
	if c.Output == nil || *c.Output == "" {
		return OutputStdout
	}
	return *c.Output
}

// PortOptions returns the serial line settings. Unset fields are left zero
// so serialmux applies its defaults.
func (c *BridgeConfig) PortOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	opts.ReadTimeout = c.GetReadTimeout()
	return opts
}

// SetPort and the other setters override single values, for command line
// flags.
func (c *BridgeConfig) SetPort(v string) { c.Port = &v }

func (c *BridgeConfig) SetBaudRate(v int) { c.BaudRate = &v }

func (c *BridgeConfig) SetParity(v string) { c.Parity = &v }

func (c *BridgeConfig) SetDebug(v bool) { c.Debug = &v }

func (c *BridgeConfig) SetOutput(v string) { c.Output = &v }
