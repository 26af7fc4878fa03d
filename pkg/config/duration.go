package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML scalars like "30s" or "5m" via time.ParseDuration.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like '30s': %w", err)
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}
