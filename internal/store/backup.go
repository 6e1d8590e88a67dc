package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const backupPrefix = "library_backup_"

// Backups manages timestamped snapshots of a store's on-disk tree. Old
// snapshots are pruned so at most maxKeep remain.
type Backups struct {
	store   *Store
	dir     string
	maxKeep int
	log     zerolog.Logger
}

// BackupInfo describes one snapshot.
type BackupInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBackups creates a backup manager writing snapshots under dir.
func NewBackups(s *Store, dir string, maxKeep int, log zerolog.Logger) *Backups {
	if maxKeep <= 0 {
		maxKeep = 7
	}
	return &Backups{store: s, dir: dir, maxKeep: maxKeep, log: log}
}

// Create snapshots the entire store tree into a timestamped directory and
// prunes snapshots beyond the retention limit.
func (b *Backups) Create() (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := backupPrefix + time.Now().UTC().Format("20060102_150405")
	dest := filepath.Join(b.dir, name)
	if err := copyTree(b.store.baseDir, dest); err != nil {
		os.RemoveAll(dest)
		return "", fmt.Errorf("snapshot store: %w", err)
	}

	b.log.Info().Str("backup", name).Msg("store backup created")
	b.prune()
	return dest, nil
}

// List returns available snapshots, newest first.
func (b *Backups) List() ([]BackupInfo, error) {
	names, err := b.snapshotNames()
	if err != nil {
		return nil, err
	}

	infos := make([]BackupInfo, 0, len(names))
	for _, name := range names {
		path := filepath.Join(b.dir, name)
		size, err := treeSize(path)
		if err != nil {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		infos = append(infos, BackupInfo{Name: name, SizeBytes: size, CreatedAt: fi.ModTime()})
	}
	return infos, nil
}

// Restore replaces the live store tree with the named snapshot. The current
// tree is snapshotted first so a bad restore is itself recoverable.
func (b *Backups) Restore(name string) error {
	src := filepath.Join(b.dir, filepath.Base(name))
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("backup %q: %w", name, err)
	}

	preName := backupPrefix + "pre_restore_" + time.Now().UTC().Format("20060102_150405")
	if err := copyTree(b.store.baseDir, filepath.Join(b.dir, preName)); err != nil {
		return fmt.Errorf("pre-restore snapshot: %w", err)
	}

	if err := os.RemoveAll(b.store.baseDir); err != nil {
		return err
	}
	if err := copyTree(src, b.store.baseDir); err != nil {
		return fmt.Errorf("restore store: %w", err)
	}

	b.log.Info().Str("backup", name).Str("pre_restore", preName).Msg("store restored from backup")
	return nil
}

// snapshotNames returns snapshot directory names, newest first. Names embed
// timestamps, so lexicographic order is chronological.
func (b *Backups) snapshotNames() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (b *Backups) prune() {
	names, err := b.snapshotNames()
	if err != nil {
		b.log.Warn().Err(err).Msg("backup prune scan failed")
		return
	}
	for _, name := range names[min(len(names), b.maxKeep):] {
		if err := os.RemoveAll(filepath.Join(b.dir, name)); err != nil {
			b.log.Warn().Err(err).Str("backup", name).Msg("backup removal failed")
			continue
		}
		b.log.Info().Str("backup", name).Msg("old backup removed")
	}
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
