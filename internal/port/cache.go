package port

import "mnemo/internal/domain"

// DisplayCache keeps a local, non-authoritative copy of saved memories for
// display. Recall never reads from it.
type DisplayCache interface {
	Put(item domain.CachedMemory) error

	// List returns cached memories, newest first.
	List() ([]domain.CachedMemory, error)

	Delete(ids []string) error

	Clear() error
}
