package gate

import "sync"

// cacheKey identifies one evaluation: a given PR, at a given head
// commit, under a given policy. Re-evaluating the identical triple is a
// no-op, making gate evaluation idempotent across supervisor cycles.
type cacheKey struct {
	prNumber   int
	headSHA    string
	policyHash string
}

// EvaluationCache remembers which (pr_number, head_sha, policy_hash)
// triples have already been evaluated, so a cycle that re-observes an
// unchanged PR does not re-publish a duplicate status or artifact.
type EvaluationCache struct {
	mu   sync.Mutex
	seen map[cacheKey]struct{}
}

// NewEvaluationCache constructs an empty cache.
func NewEvaluationCache() *EvaluationCache {
	return &EvaluationCache{seen: map[cacheKey]struct{}{}}
}

// Seen reports whether this exact (PR, head SHA, policy hash) triple has
// already been marked evaluated.
func (c *EvaluationCache) Seen(prNumber int, headSHA, policyHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[cacheKey{prNumber, headSHA, policyHash}]
	return ok
}

// Mark records a (PR, head SHA, policy hash) triple as evaluated.
func (c *EvaluationCache) Mark(prNumber int, headSHA, policyHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[cacheKey{prNumber, headSHA, policyHash}] = struct{}{}
}
