package memory

import (
	"context"
	"sort"
	"sync"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
)

// MemorySpoolJournal keeps pending spool entries for the lifetime of the
// process. Entries survive session restarts but not a process restart.
type MemorySpoolJournal struct {
	entries map[string]map[domain.SpoolEntry]struct{}
	mu      sync.RWMutex
}

func NewMemorySpoolJournal() ports.SpoolJournal {
	return &MemorySpoolJournal{
		entries: make(map[string]map[domain.SpoolEntry]struct{}),
	}
}

func (j *MemorySpoolJournal) Add(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	set, ok := j.entries[serial]
	if !ok {
		set = make(map[domain.SpoolEntry]struct{})
		j.entries[serial] = set
	}
	set[entry] = struct{}{}
	return nil
}

func (j *MemorySpoolJournal) Remove(ctx context.Context, serial string, entry domain.SpoolEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	set, ok := j.entries[serial]
	if !ok {
		return nil
	}
	delete(set, entry)
	if len(set) == 0 {
		delete(j.entries, serial)
	}
	return nil
}

// Pending returns the entries of serial ordered by timestamp
func (j *MemorySpoolJournal) Pending(ctx context.Context, serial string) ([]domain.SpoolEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	set := j.entries[serial]
	result := make([]domain.SpoolEntry, 0, len(set))
	for entry := range set {
		result = append(result, entry)
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].Timestamp != result[b].Timestamp {
			return result[a].Timestamp < result[b].Timestamp
		}
		return result[a].Dir < result[b].Dir
	})
	return result, nil
}

func (j *MemorySpoolJournal) HealthCheck(ctx context.Context) error {
	return nil
}
