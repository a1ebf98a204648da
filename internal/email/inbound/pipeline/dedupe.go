package pipeline

import (
	"context"
	"fmt"
	"sync"
)

type processedLookup interface {
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
}

// DedupGuard rejects messages already ingested, by Message-ID. Two layers:
// a process-lifetime in-memory set catches repeats across cycles of the same
// process cheaply, and a store point lookup catches repeats across restarts.
// Messages without a Message-ID pass through; the store's upsert keying is
// the backstop for those.
type DedupGuard struct {
	proposals processedLookup

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedupGuard builds a guard over the proposal store.
func NewDedupGuard(proposals processedLookup) *DedupGuard {
	return &DedupGuard{
		proposals: proposals,
		seen:      make(map[string]struct{}),
	}
}

// ShouldProcess reports whether the message id is new. A store lookup failure
// is returned as an error so the caller can leave the message unseen rather
// than risk a duplicate ingest.
func (g *DedupGuard) ShouldProcess(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	g.mu.Lock()
	_, dup := g.seen[messageID]
	g.mu.Unlock()
	if dup {
		return false, nil
	}
	exists, err := g.proposals.ExistsByMessageID(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("dedup lookup %q: %w", messageID, err)
	}
	return !exists, nil
}

// MarkProcessing records the id in the session set before extraction begins,
// so a concurrent or immediate retry of the same message is rejected even if
// its ingest has not reached the store yet.
func (g *DedupGuard) MarkProcessing(messageID string) {
	if messageID == "" {
		return
	}
	g.mu.Lock()
	g.seen[messageID] = struct{}{}
	g.mu.Unlock()
}
