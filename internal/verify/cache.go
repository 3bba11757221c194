package verify

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/palaseus/gillean/internal/api"
)

const (
	defaultVerdictCapacity = 4096
	defaultVerdictTTL      = time.Minute
)

// Verifier is a ChainIntegrity front that caches per-block verdicts.
// Blocks are immutable once mined, so a verdict keyed by hash and index
// stays correct; the TTL only bounds staleness of the timestamp-drift
// warning. Continuous mode re-reads whole chains every tick, which makes
// re-judging every old block pure waste.
type Verifier struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	nowFn    func() time.Time

	hits   int64
	misses int64
}

type cachedVerdict struct {
	key       string
	result    Result
	expiresAt time.Time
}

// NewVerifier creates a caching verifier. Zero values fall back to the
// defaults.
func NewVerifier(capacity int, ttl time.Duration) *Verifier {
	if capacity <= 0 {
		capacity = defaultVerdictCapacity
	}
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	return &Verifier{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		nowFn:    time.Now,
	}
}

// ChainIntegrity judges the chain like the package-level function, but
// serves per-block verdicts from the cache. Linkage is always judged
// fresh since it depends on neighboring blocks.
func (v *Verifier) ChainIntegrity(blocks []api.Block) Result {
	var r Result
	if len(blocks) == 0 {
		r.violate("chain_empty", 0, "chain has no blocks, genesis expected")
		return r
	}

	genesis := blocks[0]
	r.merge(v.verdict("g:"+blockKey(genesis), func() Result { return GenesisBlock(genesis) }))
	for _, b := range blocks[1:] {
		b := b
		r.merge(v.verdict("b:"+blockKey(b), func() Result { return BlockIntegrity(b) }))
	}
	r.merge(ChainLinkage(blocks))
	return r
}

// Stats returns verdict cache hit and miss counts.
func (v *Verifier) Stats() (hits, misses int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hits, v.misses
}

// Len returns the number of cached verdicts.
func (v *Verifier) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.order.Len()
}

func blockKey(b api.Block) string {
	return fmt.Sprintf("%s:%d", b.Hash, b.Index)
}

// verdict returns the cached result for key, computing and storing it on
// a miss or after expiry.
func (v *Verifier) verdict(key string, compute func() Result) Result {
	v.mu.Lock()
	if elem, ok := v.items[key]; ok {
		cv := elem.Value.(*cachedVerdict)
		if v.nowFn().Before(cv.expiresAt) {
			v.order.MoveToFront(elem)
			v.hits++
			v.mu.Unlock()
			return cv.result
		}
		v.removeElement(elem)
	}
	v.misses++
	v.mu.Unlock()

	res := compute()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.order.Len() >= v.capacity {
		if oldest := v.order.Back(); oldest != nil {
			v.removeElement(oldest)
		}
	}
	elem := v.order.PushFront(&cachedVerdict{
		key:       key,
		result:    res,
		expiresAt: v.nowFn().Add(v.ttl),
	})
	v.items[key] = elem
	return res
}

// removeElement must be called with mu held.
func (v *Verifier) removeElement(elem *list.Element) {
	v.order.Remove(elem)
	delete(v.items, elem.Value.(*cachedVerdict).key)
}
