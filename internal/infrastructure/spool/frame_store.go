package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"depthcap/internal/core/domain"
	"depthcap/internal/core/ports"
	apperrors "depthcap/pkg/errors"
)

const (
	colorDir = "color"
	depthDir = "depth"
)

// FileFrameStore spools frames as <root>/<folder>/<serial>/{color,depth}/<timestamp><ext>
type FileFrameStore struct {
	root   string
	serial string
	codec  ports.ImageCodec
}

func NewFileFrameStore(root, serial string, codec ports.ImageCodec) *FileFrameStore {
	return &FileFrameStore{
		root:   root,
		serial: serial,
		codec:  codec,
	}
}

// Dir returns the camera directory for folder without creating it
func (s *FileFrameStore) Dir(folder string) string {
	return filepath.Join(s.root, filepath.Clean(string(filepath.Separator)+folder), s.serial)
}

// Prepare creates the color and depth folders. Concurrent creation by another
// process is not an error.
func (s *FileFrameStore) Prepare(folder string) (string, error) {
	dir := s.Dir(folder)
	for _, sub := range []string{colorDir, depthDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return dir, apperrors.NewLocalIOError("create spool folder", err).WithContext("dir", dir)
		}
	}
	return dir, nil
}

func (s *FileFrameStore) Write(dir string, frame domain.Frame) error {
	color, err := s.codec.Encode(frame.Color)
	if err != nil {
		return apperrors.NewLocalIOError("encode color image", err).WithContext("timestamp", frame.Timestamp)
	}
	depth, err := s.codec.Encode(frame.Depth)
	if err != nil {
		return apperrors.NewLocalIOError("encode depth image", err).WithContext("timestamp", frame.Timestamp)
	}

	entry := domain.SpoolEntry{Timestamp: frame.Timestamp, Dir: dir}
	if err := writeFile(s.colorPath(entry), color); err != nil {
		return apperrors.NewLocalIOError("write color image", err).WithContext("timestamp", frame.Timestamp)
	}
	if err := writeFile(s.depthPath(entry), depth); err != nil {
		_ = os.Remove(s.colorPath(entry))
		return apperrors.NewLocalIOError("write depth image", err).WithContext("timestamp", frame.Timestamp)
	}
	return nil
}

func (s *FileFrameStore) Read(entry domain.SpoolEntry) ([]byte, []byte, error) {
	color, err := os.ReadFile(s.colorPath(entry))
	if err != nil {
		return nil, nil, s.readError("read color image", entry, err)
	}
	depth, err := os.ReadFile(s.depthPath(entry))
	if err != nil {
		return nil, nil, s.readError("read depth image", entry, err)
	}
	return color, depth, nil
}

// Delete removes both images. Both removals are attempted; a missing file
// is reported as a LOCAL_IO error.
func (s *FileFrameStore) Delete(entry domain.SpoolEntry) error {
	var errs []error
	for _, p := range []string{s.colorPath(entry), s.depthPath(entry)} {
		if err := os.Remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return apperrors.NewLocalIOError("delete spooled frame", errors.Join(errs...)).WithContext("timestamp", entry.Timestamp)
	}
	return nil
}

func (s *FileFrameStore) Exists(entry domain.SpoolEntry) bool {
	for _, p := range []string{s.colorPath(entry), s.depthPath(entry)} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func (s *FileFrameStore) readError(op string, entry domain.SpoolEntry, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = fmt.Errorf("%w: %v", domain.ErrSpoolEntryMissing, err)
	}
	return apperrors.NewLocalIOError(op, err).WithContext("timestamp", entry.Timestamp)
}

func (s *FileFrameStore) colorPath(entry domain.SpoolEntry) string {
	return filepath.Join(entry.Dir, colorDir, s.fileName(entry.Timestamp))
}

func (s *FileFrameStore) depthPath(entry domain.SpoolEntry) string {
	return filepath.Join(entry.Dir, depthDir, s.fileName(entry.Timestamp))
}

func (s *FileFrameStore) fileName(ts uint64) string {
	return strconv.FormatUint(ts, 10) + s.codec.Extension()
}

// writeFile writes through a temporary name so a reader never sees a
// partially written image.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
