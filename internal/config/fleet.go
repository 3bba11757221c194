package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FleetFile describes per-node overrides loaded from a YAML file.
// Entries are positional: the first entry overrides node 0, and so on.
// Zero-valued fields keep the derived defaults.
type FleetFile struct {
	Nodes []FleetNode `yaml:"nodes"`
}

type FleetNode struct {
	Consensus     string  `yaml:"consensus"`
	Port          int     `yaml:"port"`
	Difficulty    int     `yaml:"difficulty"`
	BlockReward   float64 `yaml:"block_reward"`
	MinStake      float64 `yaml:"min_stake"`
	MaxValidators int     `yaml:"max_validators"`
}

// LoadFleet reads and parses a fleet override file.
func LoadFleet(path string) (*FleetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}

	var fleet FleetFile
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("parse fleet file %s: %w", path, err)
	}

	for i, n := range fleet.Nodes {
		if n.Consensus != "" && n.Consensus != "pow" && n.Consensus != "pos" {
			return nil, fmt.Errorf("fleet node %d: consensus must be pow or pos, got %q", i, n.Consensus)
		}
		if n.Port != 0 && (n.Port < 1 || n.Port > 65535) {
			return nil, fmt.Errorf("fleet node %d: invalid port %d", i, n.Port)
		}
	}
	return &fleet, nil
}
