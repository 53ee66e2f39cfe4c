package router

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// stableHash is the hash function shared by ABTest's deterministic
// split and ConsistentHash's rendezvous ring.
func stableHash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// hashRing wraps a rendezvous-hashing ring over a fixed node set so the
// same routing key consistently maps to the same deployment id as long
// as that deployment stays in the candidate set (only remapping the
// keys that hashed to a now-removed node, rather than the whole ring).
type hashRing struct {
	r     *rendezvous.Rendezvous
	nodes map[string]bool
}

func newHashRing(nodeIDs []string) *hashRing {
	nodes := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		nodes[id] = true
	}
	return &hashRing{r: rendezvous.New(nodeIDs, stableHash), nodes: nodes}
}

func (h *hashRing) sameNodes(nodeIDs []string) bool {
	if len(nodeIDs) != len(h.nodes) {
		return false
	}
	for _, id := range nodeIDs {
		if !h.nodes[id] {
			return false
		}
	}
	return true
}

// selectConsistentHash rebuilds (or reuses) the hash ring for model's
// current candidate set and looks up routingKey against it. Falls back
// to round-robin when routingKey is empty, since rendezvous hashing
// needs something to hash.
func (s *Selector) selectConsistentHash(model, routingKey string, candidates []*Deployment) *Deployment {
	if routingKey == "" {
		return s.selectRoundRobin(model, candidates)
	}

	ids := make([]string, len(candidates))
	byID := make(map[string]*Deployment, len(candidates))
	for i, d := range candidates {
		ids[i] = d.ID
		byID[d.ID] = d
	}

	s.hashMu.Lock()
	ring, ok := s.hashes[model]
	if !ok || !ring.sameNodes(ids) {
		ring = newHashRing(ids)
		s.hashes[model] = ring
	}
	s.hashMu.Unlock()

	picked := ring.r.Lookup(routingKey)
	if d, ok := byID[picked]; ok {
		return d
	}
	return candidates[0]
}
