package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-process Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	byExt map[string]*User
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byExt: make(map[string]*User)}
}

func (d *MemoryDirectory) Resolve(_ context.Context, externalID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byExt[externalID]
	if !ok {
		return "", ErrUnknownUser
	}
	return u.ID, nil
}

func (d *MemoryDirectory) Upsert(_ context.Context, p Profile) (*User, error) {
	p = p.Normalize()
	now := time.Now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.byExt[p.ExternalID]
	if !ok {
		u = &User{ID: uuid.NewString(), ExternalID: p.ExternalID, CreatedAt: now}
		d.byExt[p.ExternalID] = u
	}
	u.Email = p.Email
	u.Name = p.Name
	u.UpdatedAt = now
	c := *u
	return &c, nil
}

func (d *MemoryDirectory) Close() error { return nil }
