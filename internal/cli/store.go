package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/josiah-nelson/sfplib/internal/store"
)

// StoreCmd groups the offline library commands.
type StoreCmd struct {
	List   StoreListCmd   `cmd:"" help:"List all stored module profiles"`
	Show   StoreShowCmd   `cmd:"" help:"Show details of a stored profile"`
	Import StoreImportCmd `cmd:"" help:"Import an EEPROM file into the library"`
	Export StoreExportCmd `cmd:"" help:"Export a profile to a file"`
	Delete StoreDeleteCmd `cmd:"" help:"Remove a profile from the library"`
	Backup BackupCmd      `cmd:"" help:"Library backups"`
}

type StoreListCmd struct{}

func (c *StoreListCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}

	entries, err := s.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No profiles in the library.")
		fmt.Println("Import profiles with: sfplib store import <eeprom.bin>")
		return nil
	}

	fmt.Printf("Found %d profile(s):\n\n", len(entries))
	for _, entry := range entries {
		fmt.Printf("  %s  %-10s  %-16s  %-20s  %s\n",
			store.ShortHash(entry.Hash),
			entry.ModuleType,
			entry.VendorName,
			entry.PartNumber,
			entry.SerialNumber)
	}
	return nil
}

type StoreShowCmd struct {
	Hash string `arg:"" help:"Profile hash (full or prefix)"`
}

func (c *StoreShowCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}

	hash, err := s.Resolve(c.Hash)
	if err != nil {
		return err
	}
	rec, err := s.GetRecord(hash)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

type StoreImportCmd struct {
	File string `arg:"" type:"existingfile" help:"EEPROM file to import"`
}

func (c *StoreImportCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	hash, isNew, err := s.Import(data, store.NewSource("import", "", c.File))
	if err != nil {
		return err
	}

	if isNew {
		fmt.Printf("imported new profile: %s\n", store.ShortHash(hash))
	} else {
		fmt.Printf("profile already exists: %s (added source)\n", store.ShortHash(hash))
	}

	if rec, err := s.GetRecord(hash); err == nil {
		printMetadata(rec.Metadata)
	}
	return nil
}

type StoreExportCmd struct {
	Hash   string `arg:"" help:"Profile hash (full or prefix)"`
	Output string `arg:"" help:"Output file path"`
}

func (c *StoreExportCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}

	hash, err := s.Resolve(c.Hash)
	if err != nil {
		return err
	}
	if err := s.Export(hash, c.Output); err != nil {
		return err
	}
	fmt.Printf("exported to: %s\n", c.Output)
	return nil
}

type StoreDeleteCmd struct {
	Hash string `arg:"" help:"Profile hash (full or prefix)"`
}

func (c *StoreDeleteCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}

	hash, err := s.Resolve(c.Hash)
	if err != nil {
		return err
	}
	if err := s.Delete(hash); err != nil {
		return err
	}
	fmt.Printf("deleted: %s\n", store.ShortHash(hash))
	return nil
}

// --- Backups ---

type BackupCmd struct {
	Create  BackupCreateCmd  `cmd:"" help:"Snapshot the library"`
	List    BackupListCmd    `cmd:"" help:"List library snapshots"`
	Restore BackupRestoreCmd `cmd:"" help:"Restore the library from a snapshot"`
}

type BackupCreateCmd struct{}

func (c *BackupCreateCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}
	b, err := globals.openBackups(cfg, s, log)
	if err != nil {
		return err
	}

	path, err := b.Create()
	if err != nil {
		return err
	}
	fmt.Printf("backup created: %s\n", path)
	return nil
}

type BackupListCmd struct{}

func (c *BackupListCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}
	b, err := globals.openBackups(cfg, s, log)
	if err != nil {
		return err
	}

	backups, err := b.List()
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		fmt.Println("No backups.")
		return nil
	}
	for _, info := range backups {
		fmt.Printf("  %s  %8d bytes  %s\n",
			info.Name, info.SizeBytes, info.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

type BackupRestoreCmd struct {
	Name string `arg:"" help:"Snapshot name to restore"`
}

func (c *BackupRestoreCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()
	s, err := globals.openStore(cfg)
	if err != nil {
		return err
	}
	b, err := globals.openBackups(cfg, s, log)
	if err != nil {
		return err
	}

	if err := b.Restore(c.Name); err != nil {
		return err
	}
	fmt.Printf("restored from: %s\n", c.Name)
	return nil
}
