package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrNotFound reports a retrieval of a filename the registry does not hold.
// Already-served, already-reaped, and never-existed names are
// indistinguishable on purpose.
var ErrNotFound = errors.New("file not found in store")

// BadNameError represents a requested filename rejected by validation before
// any registry or filesystem lookup: path separators, parent-directory
// references, or an extension outside the whitelist.
type BadNameError struct {
	Name   string // The filename as requested by the client
	Reason string // Human-readable explanation of the rejection
}

func (e *BadNameError) Error() string {
	return fmt.Sprintf("invalid filename %q: %s", e.Name, e.Reason)
}

// ExpiredError represents a lookup that found the entry after its expiry but
// before the reaper swept it. The entry has been removed from the registry;
// the caller owns removal of the backing file at Path.
type ExpiredError struct {
	Name      string    // The expired filename
	Path      string    // Backing file left on disk for the caller to remove
	ExpiredAt time.Time // When the entry expired
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("file %s expired at %s", e.Name, e.ExpiredAt.Format(time.RFC3339))
}

// QuotaExceededError represents an admission denied because the store is at
// capacity, counting both registered entries and unsettled reservations.
type QuotaExceededError struct {
	TotalBytes int64 // Bytes currently registered
	TotalFiles int   // Files currently registered or reserved
	QuotaBytes int64 // Configured byte capacity
	QuotaFiles int   // Configured file-count capacity
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("store quota exhausted: %s of %s used, %d of %d files",
		humanize.IBytes(uint64(e.TotalBytes)), humanize.IBytes(uint64(e.QuotaBytes)), e.TotalFiles, e.QuotaFiles)
}
