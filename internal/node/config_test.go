package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaseus/gillean/internal/config"
)

// TestFleetConfigs_Parameterization verifies the derived fleet layout:
// node 0 on proof-of-work, the rest on proof-of-stake, with spread
// difficulty, reward, stake, and validator settings.
func TestFleetConfigs_Parameterization(t *testing.T) {
	cfgs := FleetConfigs(3, 3000, "/tmp/data")
	require.Len(t, cfgs, 3)

	assert.Equal(t, "node-0", cfgs[0].ID)
	assert.Equal(t, "pow", cfgs[0].Consensus)
	assert.Equal(t, 3000, cfgs[0].Port)
	assert.Equal(t, 4, cfgs[0].Difficulty)
	assert.Equal(t, 50.0, cfgs[0].BlockReward)
	assert.Equal(t, 100.0, cfgs[0].MinStake)
	assert.Equal(t, 3, cfgs[0].MaxValidators)

	assert.Equal(t, "pos", cfgs[1].Consensus)
	assert.Equal(t, 3001, cfgs[1].Port)
	assert.Equal(t, 5, cfgs[1].Difficulty)
	assert.Equal(t, 60.0, cfgs[1].BlockReward)

	assert.Equal(t, "pos", cfgs[2].Consensus)
	assert.Equal(t, 6, cfgs[2].Difficulty)
	assert.Equal(t, 70.0, cfgs[2].BlockReward)
	assert.Equal(t, 200.0, cfgs[2].MinStake)
	assert.Equal(t, 5, cfgs[2].MaxValidators)
}

// TestFleetConfigs_DistinctDataDirs verifies each node gets its own data
// directory.
func TestFleetConfigs_DistinctDataDirs(t *testing.T) {
	cfgs := FleetConfigs(4, 3000, "/tmp/data")
	seen := make(map[string]bool)
	for _, c := range cfgs {
		assert.False(t, seen[c.DataDir], "data dir %s reused", c.DataDir)
		seen[c.DataDir] = true
	}
}

// TestConfig_BaseURL verifies the API address format.
func TestConfig_BaseURL(t *testing.T) {
	c := Config{Port: 3456}
	assert.Equal(t, "http://127.0.0.1:3456", c.BaseURL())
}

// TestApplyFleetOverrides verifies that positional fleet entries override
// only the fields they set.
func TestApplyFleetOverrides(t *testing.T) {
	cfgs := FleetConfigs(2, 3000, "/tmp/data")
	fleet := &config.FleetFile{
		Nodes: []config.FleetNode{
			{Consensus: "pos", Difficulty: 9},
		},
	}

	out := ApplyFleetOverrides(cfgs, fleet)

	assert.Equal(t, "pos", out[0].Consensus)
	assert.Equal(t, 9, out[0].Difficulty)
	assert.Equal(t, 50.0, out[0].BlockReward, "unset fields keep derived values")

	assert.Equal(t, "pos", out[1].Consensus, "nodes past the fleet list are untouched")
	assert.Equal(t, 5, out[1].Difficulty)
}

// TestApplyFleetOverrides_Nil verifies that a missing fleet file is a
// no-op.
func TestApplyFleetOverrides_Nil(t *testing.T) {
	cfgs := FleetConfigs(1, 3000, "/tmp/data")
	out := ApplyFleetOverrides(cfgs, nil)
	assert.Equal(t, cfgs, out)
}
