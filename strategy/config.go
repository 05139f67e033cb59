package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// roster is the on-disk shape of a strategy configuration file: one Config
// per registered strategy name.
type roster struct {
	Strategies map[string]Config `yaml:"strategies"`
}

// LoadConfigFile reads a YAML strategy roster into a name -> Config map.
func LoadConfigFile(path string) (map[string]Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config %s: %w", path, err)
	}
	var r roster
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse strategy config %s: %w", path, err)
	}
	return r.Strategies, nil
}

// NewDefaultRegistry builds a Registry with the momentum, breakout and
// mean_reversion factories registered under their canonical names.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("momentum", NewMomentum)
	r.Register("breakout", NewBreakout)
	r.Register("mean_reversion", NewMeanReversion)
	return r
}
