package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rfpflow-io/rfpflow-ce/internal/models"
)

type identityLister interface {
	ListIdentities(ctx context.Context) ([]models.VendorIdentity, error)
}

// IdentityDirectory is a point-in-time snapshot of known vendor sender
// addresses. It is refreshed once per poll cycle so every message in a cycle
// sees the same directory; vendors registered mid-cycle are picked up on the
// next one.
type IdentityDirectory struct {
	vendors identityLister

	mu      sync.RWMutex
	byEmail map[string]models.VendorIdentity
}

// NewIdentityDirectory builds a directory over the vendor repository.
func NewIdentityDirectory(vendors identityLister) *IdentityDirectory {
	return &IdentityDirectory{
		vendors: vendors,
		byEmail: make(map[string]models.VendorIdentity),
	}
}

// Refresh replaces the snapshot with the current vendor registry contents.
func (d *IdentityDirectory) Refresh(ctx context.Context) error {
	identities, err := d.vendors.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("refresh vendor directory: %w", err)
	}
	next := make(map[string]models.VendorIdentity, len(identities))
	for _, identity := range identities {
		email := strings.ToLower(strings.TrimSpace(identity.Email))
		if email == "" {
			continue
		}
		next[email] = identity
	}
	d.mu.Lock()
	d.byEmail = next
	d.mu.Unlock()
	return nil
}

// Lookup matches a sender address case-insensitively against the snapshot.
func (d *IdentityDirectory) Lookup(email string) (models.VendorIdentity, bool) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" {
		return models.VendorIdentity{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.byEmail[key]
	return identity, ok
}

// Size reports how many vendor addresses the snapshot holds.
func (d *IdentityDirectory) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byEmail)
}
