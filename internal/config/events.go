package config

import (
	"fmt"
	"os"
)

const (
	EventsProviderMemory = "memory"
	EventsProviderNATS   = "nats"
)

// EventsConfig selects the broker change events go through.
type EventsConfig struct {
	// Provider is "memory" or "nats".
	Provider      string `yaml:"provider"`
	NATSURL       string `yaml:"nats_url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
	// FileStorage keeps the JetStream stream on disk.
	FileStorage bool `yaml:"file_storage"`
}

func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		Provider:      EventsProviderMemory,
		NATSURL:       "nats://localhost:4222",
		Stream:        "BOXBASE",
		SubjectPrefix: "boxbase.changes",
	}
}

func (c *EventsConfig) ApplyDefaults() {
	defaults := DefaultEventsConfig()
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.NATSURL == "" {
		c.NATSURL = defaults.NATSURL
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaults.SubjectPrefix
	}
}

// ApplyEnvOverrides reads BOXBASE_EVENTS_PROVIDER and BOXBASE_NATS_URL.
func (c *EventsConfig) ApplyEnvOverrides() {
	if v := os.Getenv("BOXBASE_EVENTS_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("BOXBASE_NATS_URL"); v != "" {
		c.NATSURL = v
	}
}

func (c *EventsConfig) ResolvePaths(_ string) { _ = c }

func (c *EventsConfig) Validate() error {
	switch c.Provider {
	case EventsProviderMemory, EventsProviderNATS:
	default:
		return fmt.Errorf("invalid events provider: %s (must be memory or nats)", c.Provider)
	}
	if c.Provider == EventsProviderNATS && c.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required for the nats provider")
	}
	return nil
}
