package node

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/palaseus/gillean/internal/config"
)

// Config describes one ledger node in the fleet.
type Config struct {
	ID            string  `json:"id"`
	Port          int     `json:"port"`
	DataDir       string  `json:"data_dir"`
	Consensus     string  `json:"consensus"`
	Difficulty    int     `json:"difficulty"`
	BlockReward   float64 `json:"block_reward"`
	MinStake      float64 `json:"min_stake"`
	MaxValidators int     `json:"max_validators"`
}

// BaseURL returns the node's API address.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Port)
}

// FleetConfigs derives the default fleet layout: node 0 runs proof-of-work,
// the rest proof-of-stake, with per-node parameters spread so no two nodes
// share difficulty, reward, or validator settings. Data directories get a
// shared timestamp suffix so reruns never collide with stale state.
func FleetConfigs(count, basePort int, dataRoot string) []Config {
	stamp := time.Now().Unix()
	cfgs := make([]Config, count)
	for i := 0; i < count; i++ {
		consensus := "pos"
		if i == 0 {
			consensus = "pow"
		}
		id := fmt.Sprintf("node-%d", i)
		cfgs[i] = Config{
			ID:            id,
			Port:          basePort + i,
			DataDir:       filepath.Join(dataRoot, fmt.Sprintf("%s_%d", id, stamp)),
			Consensus:     consensus,
			Difficulty:    4 + i,
			BlockReward:   50 + float64(10*i),
			MinStake:      100 + float64(50*i),
			MaxValidators: 3 + i,
		}
	}
	return cfgs
}

// ApplyFleetOverrides layers a fleet file over derived configs. Overrides
// are positional; extra fleet entries are ignored, zero fields keep the
// derived value.
func ApplyFleetOverrides(cfgs []Config, fleet *config.FleetFile) []Config {
	if fleet == nil {
		return cfgs
	}
	for i := range cfgs {
		if i >= len(fleet.Nodes) {
			break
		}
		o := fleet.Nodes[i]
		if o.Consensus != "" {
			cfgs[i].Consensus = o.Consensus
		}
		if o.Port != 0 {
			cfgs[i].Port = o.Port
		}
		if o.Difficulty != 0 {
			cfgs[i].Difficulty = o.Difficulty
		}
		if o.BlockReward != 0 {
			cfgs[i].BlockReward = o.BlockReward
		}
		if o.MinStake != 0 {
			cfgs[i].MinStake = o.MinStake
		}
		if o.MaxValidators != 0 {
			cfgs[i].MaxValidators = o.MaxValidators
		}
	}
	return cfgs
}
