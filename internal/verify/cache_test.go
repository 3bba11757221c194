package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVerifier_SameVerdictAsDirect verifies the caching path and the
// package-level function agree on both clean and corrupt chains.
func TestVerifier_SameVerdictAsDirect(t *testing.T) {
	v := NewVerifier(0, 0)

	clean := goodChain(4)
	assert.Equal(t, ChainIntegrity(clean).OK(), v.ChainIntegrity(clean).OK())

	corrupt := goodChain(4)
	corrupt[2].PreviousHash = hash(99)
	direct := ChainIntegrity(corrupt)
	cached := v.ChainIntegrity(corrupt)
	require.False(t, cached.OK())
	assert.Len(t, cached.Violations, len(direct.Violations))
}

// TestVerifier_ServesRepeatsFromCache verifies a second pass over the
// same chain hits the verdict cache for every block.
func TestVerifier_ServesRepeatsFromCache(t *testing.T) {
	v := NewVerifier(0, 0)
	chain := goodChain(5)

	require.True(t, v.ChainIntegrity(chain).OK())
	hits, misses := v.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, int64(5), misses)

	require.True(t, v.ChainIntegrity(chain).OK())
	hits, _ = v.Stats()
	assert.Equal(t, int64(5), hits)
}

// TestVerifier_LinkageStaysFresh verifies corruption between two blocks
// is caught even when both blocks' own verdicts are cached.
func TestVerifier_LinkageStaysFresh(t *testing.T) {
	v := NewVerifier(0, 0)
	chain := goodChain(4)
	require.True(t, v.ChainIntegrity(chain).OK())

	// Swap two blocks; each block alone is still well formed.
	chain[1], chain[2] = chain[2], chain[1]
	res := v.ChainIntegrity(chain)
	require.False(t, res.OK())
	assert.Contains(t, res.Summary(), "chain_index_mismatch")
}

// TestVerifier_ExpiryRejudges verifies an expired verdict is computed
// again.
func TestVerifier_ExpiryRejudges(t *testing.T) {
	v := NewVerifier(0, 10*time.Millisecond)
	chain := goodChain(2)

	require.True(t, v.ChainIntegrity(chain).OK())
	v.nowFn = func() time.Time { return time.Now().Add(time.Second) }

	require.True(t, v.ChainIntegrity(chain).OK())
	_, misses := v.Stats()
	assert.Equal(t, int64(4), misses, "expired entries should count as misses")
}

// TestVerifier_CapacityEviction verifies the cache stays bounded.
func TestVerifier_CapacityEviction(t *testing.T) {
	v := NewVerifier(3, time.Minute)
	chain := goodChain(6)

	v.ChainIntegrity(chain)
	assert.LessOrEqual(t, v.Len(), 3)
}
