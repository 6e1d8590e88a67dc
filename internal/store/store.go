// Package store keeps a content-addressable library of module EEPROM
// profiles on disk. Raw captures are the source of truth; parsed records
// and the index are derived and regenerable.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
)

// ErrNotFound reports a hash with no stored profile.
var ErrNotFound = errors.New("profile not found")

// Store manages the on-disk profile library. All methods are safe to call
// from one process; cross-process locking is not attempted.
type Store struct {
	baseDir     string
	profilesDir string
	recordsDir  string
	indexPath   string
}

// Index holds the summary entries for quick listing, keyed by content hash.
type Index struct {
	Profiles  map[string]IndexEntry `json:"profiles"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// IndexEntry is the listing view of one profile.
type IndexEntry struct {
	Hash         string    `json:"hash"`
	VendorName   string    `json:"vendor_name,omitempty"`
	PartNumber   string    `json:"part_number,omitempty"`
	SerialNumber string    `json:"serial_number,omitempty"`
	ModuleType   string    `json:"module_type"`
	Size         int       `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultPath returns the per-user store location (~/.sfplib/store).
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sfplib", "store"), nil
}

// Open opens or creates a store rooted at path.
func Open(path string) (*Store, error) {
	s := &Store{
		baseDir:     path,
		profilesDir: filepath.Join(path, "profiles"),
		recordsDir:  filepath.Join(path, "records"),
		indexPath:   filepath.Join(path, "index.json"),
	}
	if err := os.MkdirAll(s.profilesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}
	if err := os.MkdirAll(s.recordsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return s, nil
}

// Import adds a raw capture to the store. A capture whose bytes already
// exist is deduplicated: the existing profile gains a new source entry and
// isNew is false. The raw bytes are written before any derived data so a
// crash can never leave a record without its capture.
func (s *Store) Import(data []byte, source Source) (hash string, isNew bool, err error) {
	hash = ContentHash(data)
	profilePath := s.profilePath(hash)
	recordPath := s.recordPath(hash)

	var rec *Record
	if _, statErr := os.Stat(recordPath); os.IsNotExist(statErr) {
		isNew = true
		now := time.Now().UTC()
		rec = &Record{
			ContentHash: hash,
			Size:        len(data),
			Metadata:    eeprom.ParseBytes(data),
			Sources:     []Source{source},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := os.WriteFile(profilePath, data, 0o644); err != nil {
			return "", false, fmt.Errorf("write profile: %w", err)
		}
	} else {
		rec, err = s.GetRecord(hash)
		if err != nil {
			return "", false, err
		}
		rec.Sources = append(rec.Sources, source)
		rec.UpdatedAt = time.Now().UTC()
	}

	if err := writeJSON(recordPath, rec); err != nil {
		return "", false, fmt.Errorf("write record: %w", err)
	}
	if err := s.updateIndex(hash, rec); err != nil {
		return "", false, fmt.Errorf("update index: %w", err)
	}
	return hash, isNew, nil
}

// Get returns the raw capture bytes for a hash.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.profilePath(hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ShortHash(hash))
	}
	return data, err
}

// GetImage returns the capture as a validated image.
func (s *Store) GetImage(hash string) (*eeprom.Image, error) {
	data, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	return eeprom.NewImage(data, len(data), eeprom.SourceStore)
}

// GetRecord returns the parsed record for a hash.
func (s *Store) GetRecord(hash string) (*Record, error) {
	data, err := os.ReadFile(s.recordPath(hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ShortHash(hash))
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &rec, nil
}

// List returns all profiles, newest first.
func (s *Store) List() ([]IndexEntry, error) {
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	entries := make([]IndexEntry, 0, len(index.Profiles))
	for _, entry := range index.Profiles {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Resolve expands a hash prefix to the unique full hash it identifies.
func (s *Store) Resolve(prefix string) (string, error) {
	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	if _, ok := index.Profiles[prefix]; ok {
		return prefix, nil
	}
	var matches []string
	for hash := range index.Profiles {
		if len(prefix) >= 4 && (hasPrefix(hash, prefix) || hasPrefix(hash[7:], prefix)) {
			matches = append(matches, hash)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous prefix %q matches %d profiles", prefix, len(matches))
	}
}

// Export writes a profile's raw bytes to destPath.
func (s *Store) Export(hash, destPath string) error {
	data, err := s.Get(hash)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o644)
}

// Delete removes a profile, its record and its index entry.
func (s *Store) Delete(hash string) error {
	if _, err := s.GetRecord(hash); err != nil {
		return err
	}
	if err := os.Remove(s.profilePath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(s.recordPath(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	delete(index.Profiles, hash)
	index.UpdatedAt = time.Now().UTC()
	return writeJSON(s.indexPath, index)
}

// Count returns the number of stored profiles.
func (s *Store) Count() (int, error) {
	index, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	return len(index.Profiles), nil
}

func (s *Store) profilePath(hash string) string {
	return filepath.Join(s.profilesDir, hashToFilename(hash)+".bin")
}

func (s *Store) recordPath(hash string) string {
	return filepath.Join(s.recordsDir, hashToFilename(hash)+".json")
}

func (s *Store) loadIndex() (*Index, error) {
	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return &Index{Profiles: make(map[string]IndexEntry)}, nil
	}
	if err != nil {
		return nil, err
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if index.Profiles == nil {
		index.Profiles = make(map[string]IndexEntry)
	}
	return &index, nil
}

func (s *Store) updateIndex(hash string, rec *Record) error {
	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	entry := IndexEntry{
		Hash:       hash,
		ModuleType: rec.Metadata.ModuleType,
		Size:       rec.Size,
		CreatedAt:  rec.CreatedAt,
	}
	entry.VendorName = rec.Metadata.VendorName
	entry.PartNumber = rec.Metadata.PartNumber
	entry.SerialNumber = rec.Metadata.SerialNumber
	index.Profiles[hash] = entry
	index.UpdatedAt = time.Now().UTC()
	return writeJSON(s.indexPath, index)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func hashToFilename(hash string) string {
	if len(hash) > 7 && hash[:7] == "sha256:" {
		return hash[7:]
	}
	return hash
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
