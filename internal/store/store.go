package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileEntry describes one stored artifact. Immutable once registered; it is
// destroyed either by the reaper or by a take, never mutated.
type FileEntry struct {
	Name      string // Opaque server-generated filename (uuid + whitelisted ext)
	Path      string // Absolute path, always a direct child of the store root
	Size      int64  // Bytes on disk
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Stats is a snapshot of the registry aggregates.
type Stats struct {
	TotalBytes int64 // Sum of registered entry sizes
	TotalFiles int   // Registered entries
	Reserved   int   // Admissions holding a slot whose job has not settled yet
}

// Registry is the process-wide source of truth for what exists in the store
// and whether it may be served. A single mutex serializes quota checks,
// registration, takes, and sweeps so aggregates never drift from the entries
// and admissions never overshoot capacity.
type Registry struct {
	root       string
	ttl        time.Duration
	quotaBytes int64
	quotaFiles int

	now func() time.Time

	mu         sync.Mutex
	entries    map[string]FileEntry
	totalBytes int64
	reserved   int
}

// NewRegistry creates a registry rooted at root. The root directory must
// already exist; the registry starts empty and does not rediscover files
// left behind by a previous process.
func NewRegistry(root string, ttl time.Duration, quotaBytes int64, quotaFiles int) *Registry {
	return &Registry{
		root:       root,
		ttl:        ttl,
		quotaBytes: quotaBytes,
		quotaFiles: quotaFiles,
		now:        time.Now,
		entries:    make(map[string]FileEntry),
	}
}

// Reservation is a held store slot. Exactly one of Commit or Release settles
// it; both are safe to call after settlement.
type Reservation struct {
	reg     *Registry
	settled bool
}

// Reserve checks the quota and, if there is capacity, holds a file slot for
// an upcoming job. Reservations count toward the file-count quota so that
// two concurrent admissions cannot both squeeze past the limit. Denials
// carry *QuotaExceededError.
func (r *Registry) Reserve() (*Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.totalBytes >= r.quotaBytes || len(r.entries)+r.reserved >= r.quotaFiles {
		return nil, &QuotaExceededError{
			TotalBytes: r.totalBytes,
			TotalFiles: len(r.entries) + r.reserved,
			QuotaBytes: r.quotaBytes,
			QuotaFiles: r.quotaFiles,
		}
	}

	r.reserved++

	return &Reservation{reg: r}, nil
}

// Commit moves the staged file into the store root under a fresh opaque name
// and registers it, atomically with respect to every other registry
// operation. On failure the file stays where it was and the reservation
// remains open for Release.
func (res *Reservation) Commit(stagedPath, ext string, size int64) (FileEntry, error) {
	r := res.reg

	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return FileEntry{}, fmt.Errorf("reservation already settled")
	}

	name := NewName(ext)
	dest := filepath.Join(r.root, name)

	if err := os.Rename(stagedPath, dest); err != nil {
		return FileEntry{}, fmt.Errorf("failed to move staged file into store: %w", err)
	}

	now := r.now()
	entry := FileEntry{
		Name:      name,
		Path:      dest,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}

	r.entries[name] = entry
	r.totalBytes += size
	r.reserved--
	res.settled = true

	return entry, nil
}

// Release frees the held slot without registering anything. No-op once the
// reservation is settled.
func (res *Reservation) Release() {
	r := res.reg

	r.mu.Lock()
	defer r.mu.Unlock()

	if res.settled {
		return
	}

	res.settled = true
	r.reserved--
}

// TakeForServe removes the entry for name and returns it; ownership of the
// backing file's deletion transfers to the caller. Only one concurrent
// caller wins for a given name, the rest get ErrNotFound. An entry found
// past its expiry is removed as well but reported with *ExpiredError, so an
// expired file is never served even before the reaper runs.
func (r *Registry) TakeForServe(name string) (FileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[name]
	if !ok {
		return FileEntry{}, ErrNotFound
	}

	delete(r.entries, name)
	r.totalBytes -= entry.Size

	if !entry.ExpiresAt.After(r.now()) {
		return FileEntry{}, &ExpiredError{Name: entry.Name, Path: entry.Path, ExpiredAt: entry.ExpiresAt}
	}

	return entry, nil
}

// SweepExpired removes and returns every entry with ExpiresAt <= now.
// Deletion of the backing files is the caller's job.
func (r *Registry) SweepExpired(now time.Time) []FileEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []FileEntry

	for name, entry := range r.entries {
		if !entry.ExpiresAt.After(now) {
			delete(r.entries, name)
			r.totalBytes -= entry.Size

			swept = append(swept, entry)
		}
	}

	return swept
}

// Stats returns a consistent snapshot of the aggregates.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		TotalBytes: r.totalBytes,
		TotalFiles: len(r.entries),
		Reserved:   r.reserved,
	}
}
