package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func testCapture(fill byte) []byte {
	data := make([]byte, 256)
	data[0] = 0x03
	copy(data[20:36], []byte("VENDORCO        "))
	copy(data[40:56], []byte("PN-1234         "))
	copy(data[68:84], []byte("SN-0001         "))
	for i := 96; i < 256; i++ {
		data[i] = fill
	}
	return data
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestImportAndGet(t *testing.T) {
	s := openTestStore(t)
	data := testCapture(0x11)

	hash, isNew, err := s.Import(data, NewSource("import", "", "capture.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !isNew {
		t.Error("first import not reported as new")
	}
	if hash != ContentHash(data) {
		t.Errorf("hash %s, want content hash of raw bytes", hash)
	}

	got, err := s.Get(hash)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("stored bytes differ from imported bytes")
	}

	rec, err := s.GetRecord(hash)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Metadata.VendorName != "VENDORCO" {
		t.Errorf("parsed vendor %q", rec.Metadata.VendorName)
	}
	if len(rec.Sources) != 1 || rec.Sources[0].ID == "" {
		t.Errorf("sources %+v", rec.Sources)
	}
}

func TestImportDeduplicatesByContent(t *testing.T) {
	s := openTestStore(t)
	data := testCapture(0x22)

	h1, _, err := s.Import(data, NewSource("module_read", "aa:bb:cc:dd:ee:ff", ""))
	if err != nil {
		t.Fatal(err)
	}
	h2, isNew, err := s.Import(data, NewSource("module_read", "aa:bb:cc:dd:ee:ff", ""))
	if err != nil {
		t.Fatal(err)
	}
	if isNew {
		t.Error("identical capture reported as new profile")
	}
	if h1 != h2 {
		t.Errorf("hashes differ for identical bytes: %s vs %s", h1, h2)
	}

	rec, err := s.GetRecord(h1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Sources) != 2 {
		t.Errorf("%d sources after re-import, want 2", len(rec.Sources))
	}
	if n, _ := s.Count(); n != 1 {
		t.Errorf("count %d, want 1", n)
	}
}

func TestVolatileBytesProduceDistinctProfiles(t *testing.T) {
	s := openTestStore(t)

	// Same identity region, different diagnostic bytes: the hash covers
	// the full capture, so these are two profiles.
	h1, _, err := s.Import(testCapture(0x11), NewSource("import", "", "a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := s.Import(testCapture(0x99), NewSource("import", "", "b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("captures with different bytes collided")
	}
	if n, _ := s.Count(); n != 2 {
		t.Errorf("count %d, want 2", n)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Import(testCapture(0x01), NewSource("import", "", "")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Import(testCapture(0x02), NewSource("import", "", "")); err != nil {
		t.Fatal(err)
	}

	entries, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("%d entries, want 2", len(entries))
	}
	if entries[0].CreatedAt.Before(entries[1].CreatedAt) {
		t.Error("entries not sorted newest first")
	}
}

func TestResolvePrefix(t *testing.T) {
	s := openTestStore(t)
	hash, _, err := s.Import(testCapture(0x33), NewSource("import", "", ""))
	if err != nil {
		t.Fatal(err)
	}

	// Bare hex prefix, without the algorithm tag.
	got, err := s.Resolve(hash[7:15])
	if err != nil {
		t.Fatal(err)
	}
	if got != hash {
		t.Errorf("resolved %s, want %s", got, hash)
	}

	if _, err := s.Resolve("ffffffff"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown prefix: got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	hash, _, err := s.Import(testCapture(0x44), NewSource("import", "", ""))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(hash); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: %v, want ErrNotFound", err)
	}
	if n, _ := s.Count(); n != 0 {
		t.Errorf("count %d after delete, want 0", n)
	}
	if err := s.Delete(hash); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: %v, want ErrNotFound", err)
	}
}

func TestExport(t *testing.T) {
	s := openTestStore(t)
	data := testCapture(0x55)
	hash, _, err := s.Import(data, NewSource("import", "", ""))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(t.TempDir(), "out.bin")
	if err := s.Export(hash, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("exported bytes differ from stored bytes")
	}
}

func TestBackupCreateAndRestore(t *testing.T) {
	s := openTestStore(t)
	data := testCapture(0x66)
	hash, _, err := s.Import(data, NewSource("import", "", ""))
	if err != nil {
		t.Fatal(err)
	}

	b := NewBackups(s, t.TempDir(), 7, zerolog.Nop())
	if _, err := b.Create(); err != nil {
		t.Fatal(err)
	}

	backups, err := b.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 1 {
		t.Fatalf("%d backups, want 1", len(backups))
	}

	// Wreck the live store, then restore.
	if err := s.Delete(hash); err != nil {
		t.Fatal(err)
	}
	if err := b.Restore(backups[0].Name); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(hash)
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("restored bytes differ")
	}
}

func TestBackupPruneKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	if _, _, err := s.Import(testCapture(0x77), NewSource("import", "", "")); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	b := NewBackups(s, dir, 2, zerolog.Nop())

	// Seed three pre-existing snapshots; the next Create prunes down to 2.
	for _, name := range []string{
		backupPrefix + "20240101_000000",
		backupPrefix + "20240102_000000",
		backupPrefix + "20240103_000000",
	} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := b.Create(); err != nil {
		t.Fatal(err)
	}
	names, err := b.snapshotNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("%d snapshots after prune, want 2", len(names))
	}
	for _, n := range names {
		if n == backupPrefix+"20240101_000000" || n == backupPrefix+"20240102_000000" {
			t.Errorf("old snapshot %s survived prune", n)
		}
	}
}

func TestShortHash(t *testing.T) {
	full := ContentHash([]byte("x"))
	short := ShortHash(full)
	if len(short) != 12 {
		t.Errorf("short hash %q has length %d", short, len(short))
	}
	if full[7:19] != short {
		t.Errorf("short hash %q not a prefix of the digest", short)
	}
}
