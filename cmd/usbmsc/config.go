package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "github.com/go-yaml/yaml"
)

// Config holds every knob cmd/usbmsc exposes, loaded the same way
// nasa-jpl-golaborate's cmd/multiserver loads its own: struct defaults
// first, then an optional YAML file overlaid on top.
type Config struct {
	// HAL selects the transport backend: "linux" drives the raw usbfs HAL
	// and a full host.Host enumeration; "gousb" opens a device directly by
	// VendorID/ProductID through libusb.
	HAL string `koanf:"hal"`

	VendorID  uint16 `koanf:"vendor_id"`
	ProductID uint16 `koanf:"product_id"`

	// InterfaceNumber and AltSetting select which interface "gousb" claims.
	// The "linux" backend instead scans every enumerated interface for a
	// ClassMSC/SubclassSCSI/ProtocolBulkOnly match.
	InterfaceNumber int `koanf:"interface_number"`
	AltSetting      int `koanf:"alt_setting"`

	// MaxTransferBytes caps how many bytes one CDB moves (msc.WithMaxTransferBytes).
	MaxTransferBytes uint32 `koanf:"max_transfer_bytes"`

	// EnumerateTimeoutSeconds bounds how long "linux" mode waits for a
	// device to enumerate before giving up.
	EnumerateTimeoutSeconds int `koanf:"enumerate_timeout_seconds"`

	// BindRetries and BindMaxElapsedSeconds bound the backoff.Retry wrapper
	// around msc.Bind: some devices NAK GET_MAX_LUN immediately after
	// enumeration, the same class of problem golaborate's comm package
	// retries serial/TCP reopen against.
	BindRetries           int `koanf:"bind_retries"`
	BindMaxElapsedSeconds int `koanf:"bind_max_elapsed_seconds"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level"`

	// Color disables ANSI color in the LUN summary table when false (also
	// honors NO_COLOR if set).
	Color bool `koanf:"color"`
}

// defaultConfig mirrors multiserver's pattern of seeding koanf from a
// Config literal rather than hardcoding values twice.
func defaultConfig() Config {
	return Config{
		HAL:                     "linux",
		InterfaceNumber:         0,
		AltSetting:              0,
		MaxTransferBytes:        65536,
		EnumerateTimeoutSeconds: 10,
		BindRetries:             5,
		BindMaxElapsedSeconds:   3,
		LogLevel:                "warn",
		Color:                   true,
	}
}

// configFileName is the default YAML overlay path, overridable with -config.
const configFileName = "usbmsc.yml"

// loadConfig seeds k with defaultConfig(), then overlays configPath if it
// exists. A missing file is not an error; any other load failure is.
func loadConfig(k *koanf.Koanf, configPath string) (Config, error) {
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return Config{}, fmt.Errorf("load %s: %w", configPath, err)
		}
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// writeDefaultConfig renders defaultConfig() as YAML to configPath, for the
// "mkconf" subcommand.
func writeDefaultConfig(configPath string) error {
	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return yml.NewEncoder(f).Encode(defaultConfig())
}
