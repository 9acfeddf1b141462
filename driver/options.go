package driver

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/vitaldesk/ringlink/internal/pairing"
	"github.com/vitaldesk/ringlink/internal/protocol"
	"github.com/vitaldesk/ringlink/internal/sink"
	"gopkg.in/yaml.v3"
)

// Options configures a Driver. Zero values fall back to the defaults tags.
type Options struct {
	ConnectTimeout    time.Duration `default:"30s" yaml:"connect_timeout"`
	ScanDuration      time.Duration `default:"10s" yaml:"scan_duration"`
	CommandPacing     time.Duration `default:"150ms" yaml:"command_pacing"`
	KeepAliveInterval time.Duration `default:"20s" yaml:"keep_alive_interval"`
	SyncInterval      time.Duration `default:"5m" yaml:"sync_interval"`

	// NamePrefixes restricts scanning to supported ring families. Empty
	// selects the built-in vendor prefixes.
	NamePrefixes []string `yaml:"name_prefixes"`

	// Logger for the driver and everything it owns. Nil gets a fresh one.
	Logger *logrus.Logger `yaml:"-"`

	// Store persists the last-connected device id. Nil gets the default
	// file-backed single-slot store.
	Store pairing.Store `yaml:"-"`

	// Sink receives background-sync output. Nil gets a log-only sink.
	Sink sink.Sink `yaml:"-"`
}

// normalize fills defaults and wires fallback collaborators.
func (o *Options) normalize() error {
	defaults.SetDefaults(o)

	if len(o.NamePrefixes) == 0 {
		o.NamePrefixes = protocol.DefaultNamePrefixes
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Sink == nil {
		o.Sink = &sink.LogSink{Logger: o.Logger}
	}
	if o.Store == nil {
		path, err := pairing.DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to locate pairing store: %w", err)
		}
		o.Store = pairing.NewFileStore(path)
	}
	return nil
}

// LoadProfile overlays a YAML device-profile file onto the options, so field
// engineers can target firmware variants without a rebuild. Only fields
// present in the file are touched.
func (o *Options) LoadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read device profile: %w", err)
	}
	if err := yaml.Unmarshal(data, o); err != nil {
		return fmt.Errorf("failed to parse device profile %s: %w", path, err)
	}
	return nil
}
