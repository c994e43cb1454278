package config

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConnections is returned when the file defines no connection profiles.
	ErrNoConnections = errors.New("config: no connection profiles defined")
)

// Validate checks that the configuration is internally consistent: at least
// one connection profile exists, every profile has a URL, and the routing
// section references a profile that is actually defined.
func (c *Config) Validate() error {
	if len(c.Connections) == 0 {
		return ErrNoConnections
	}

	for name, conn := range c.Connections {
		if conn.URL == "" {
			return fmt.Errorf("config: connection profile %q has no url", name)
		}
	}

	profile := c.CEL.Connection
	if profile == "" {
		profile = "default"
	}
	if _, ok := c.Connections[profile]; !ok {
		return fmt.Errorf("config: cel section references unknown connection profile %q", profile)
	}

	return nil
}
