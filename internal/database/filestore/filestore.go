// Package filestore keeps identities on the local filesystem, one directory
// per person:
//
//	<dir>/person_<id>/identity.json
//	<dir>/person_<id>/face_<n>.jpg
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/database"
)

const (
	personPrefix = "person_"
	metaFile     = "identity.json"
)

type fingerprintFile struct {
	Vector    []float32 `json:"vector"`
	BBox      []float64 `json:"bbox,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
}

type identityFile struct {
	ID           int64             `json:"id"`
	DisplayName  string            `json:"display_name,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Fingerprints []fingerprintFile `json:"fingerprints"`
}

// Store is a directory-backed database.IdentityRepository.
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// New creates a store rooted at dir. The directory is created on first save.
func New(dir string, logger *slog.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) personDir(id int64) string {
	return filepath.Join(s.dir, personPrefix+strconv.FormatInt(id, 10))
}

// LoadIdentities reads every person directory. A missing root directory is an
// empty store; unreadable or corrupt person directories are logged and skipped.
func (s *Store) LoadIdentities(ctx context.Context) ([]database.StoredIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity directory: %w", err)
	}

	var out []database.StoredIdentity
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || !strings.HasPrefix(e.Name(), personPrefix) {
			continue
		}
		ident, err := s.readPerson(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable identity", "dir", e.Name(), "error", err)
			continue
		}
		out = append(out, ident)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (s *Store) readPerson(dir string) (database.StoredIdentity, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return database.StoredIdentity{}, fmt.Errorf("read %s: %w", metaFile, err)
	}
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return database.StoredIdentity{}, fmt.Errorf("decode %s: %w", metaFile, err)
	}
	if f.ID <= 0 {
		return database.StoredIdentity{}, fmt.Errorf("invalid identity id %d", f.ID)
	}

	ident := database.StoredIdentity{
		ID:          f.ID,
		DisplayName: f.DisplayName,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
	for _, fp := range f.Fingerprints {
		stored := database.StoredFingerprint{Vector: fp.Vector, BBox: fp.BBox}
		if fp.Thumbnail != "" {
			// A missing thumbnail does not invalidate the fingerprint.
			if thumb, err := os.ReadFile(filepath.Join(dir, filepath.Base(fp.Thumbnail))); err == nil {
				stored.Thumbnail = thumb
			}
		}
		ident.Fingerprints = append(ident.Fingerprints, stored)
	}
	return ident, nil
}

// SaveIdentity writes the identity's metadata and thumbnails, replacing what
// was there. Files are written to a temporary name and renamed into place.
func (s *Store) SaveIdentity(ctx context.Context, ident database.StoredIdentity) error {
	if ident.ID <= 0 {
		return fmt.Errorf("invalid identity id %d", ident.ID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.personDir(ident.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	f := identityFile{
		ID:           ident.ID,
		DisplayName:  ident.DisplayName,
		CreatedAt:    ident.CreatedAt,
		UpdatedAt:    ident.UpdatedAt,
		Fingerprints: make([]fingerprintFile, 0, len(ident.Fingerprints)),
	}
	for n, fp := range ident.Fingerprints {
		entry := fingerprintFile{Vector: fp.Vector, BBox: fp.BBox}
		if len(fp.Thumbnail) > 0 {
			entry.Thumbnail = fmt.Sprintf("face_%d.jpg", n)
			if err := writeFileAtomic(filepath.Join(dir, entry.Thumbnail), fp.Thumbnail); err != nil {
				return err
			}
		}
		f.Fingerprints = append(f.Fingerprints, entry)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, metaFile), data)
}

// CountIdentities returns the number of person directories.
func (s *Store) CountIdentities(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read identity directory: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), personPrefix) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op; it lets the store be used where a closable repository is expected.
func (s *Store) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
