package ports

import (
	"context"

	"depthcap/internal/core/domain"
)

// FrameStore persists spooled frames under <root>/<folder>/<serial>
type FrameStore interface {
	// Prepare creates the color/depth folders for folder and returns the
	// camera directory frames are written to.
	Prepare(folder string) (string, error)
	Write(dir string, frame domain.Frame) error
	Read(entry domain.SpoolEntry) (color []byte, depth []byte, err error)
	Delete(entry domain.SpoolEntry) error
	Exists(entry domain.SpoolEntry) bool
}

// SpoolJournal remembers spooled frames that have not been uploaded yet,
// so a later session can pick them up.
type SpoolJournal interface {
	Add(ctx context.Context, serial string, entry domain.SpoolEntry) error
	Remove(ctx context.Context, serial string, entry domain.SpoolEntry) error
	Pending(ctx context.Context, serial string) ([]domain.SpoolEntry, error)
	HealthCheck(ctx context.Context) error
}
