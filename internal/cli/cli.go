// Package cli defines the command tree. Device commands share one
// connect/disconnect lifecycle; library commands work offline.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/josiah-nelson/sfplib/internal/api"
	"github.com/josiah-nelson/sfplib/internal/config"
	"github.com/josiah-nelson/sfplib/internal/device"
	"github.com/josiah-nelson/sfplib/internal/store"
	"github.com/josiah-nelson/sfplib/internal/transport"
	"github.com/josiah-nelson/sfplib/internal/tui"
)

// CLI is the root command structure for sfplib.
type CLI struct {
	Config  string `short:"c" type:"path" help:"Path to YAML config file"`
	Verbose bool   `short:"v" help:"Enable verbose debug output"`
	Address string `short:"a" help:"Device address (skips scanning)"`

	// Default command - TUI
	Tui TuiCmd `cmd:"" default:"withargs" help:"Launch interactive TUI (default)"`

	Scan    ScanCmd    `cmd:"" help:"Scan for programmer devices"`
	Version VersionCmd `cmd:"" help:"Query device firmware version"`
	Status  StatusCmd  `cmd:"" help:"Query device and module status"`
	Read    ReadCmd    `cmd:"" help:"Read module EEPROM into the library"`
	Write   WriteCmd   `cmd:"" help:"Write a profile to the module"`
	Erase   EraseCmd   `cmd:"" help:"Blank the module EEPROM"`
	Store   StoreCmd   `cmd:"" help:"Module profile library"`
	Serve   ServeCmd   `cmd:"" help:"Run the HTTP API server"`
	Debug   DebugCmd   `cmd:"" help:"Debug and protocol exploration tools"`
	Parse   ParseCmd   `cmd:"" help:"Parse an EEPROM file offline"`
}

func (g *CLI) logger() zerolog.Logger {
	level := zerolog.InfoLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func (g *CLI) loadConfig() (*config.Config, error) {
	return config.Load(g.Config)
}

func (g *CLI) openStore(cfg *config.Config) (*store.Store, error) {
	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}

func (g *CLI) openBackups(cfg *config.Config, st *store.Store, log zerolog.Logger) (*store.Backups, error) {
	path, err := cfg.BackupPath()
	if err != nil {
		return nil, err
	}
	return store.NewBackups(st, path, cfg.Store.BackupMaxKeep, log), nil
}

func (g *CLI) newBLE(cfg *config.Config, log zerolog.Logger) *transport.BLE {
	return transport.NewBLE(transport.Config{
		ServiceUUID:    cfg.Device.ServiceUUID,
		WriteCharUUID:  cfg.Device.WriteCharUUID,
		NotifyCharUUID: cfg.Device.NotifyCharUUID,
		NamePatterns:   cfg.Device.NamePatterns,
	}, log)
}

// connect scans (unless an address was given), connects and hands back a
// ready manager. The caller owns Close.
func (g *CLI) connect(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*device.Manager, error) {
	st, err := g.openStore(cfg)
	if err != nil {
		return nil, err
	}

	ble := g.newBLE(cfg, log)
	address := g.Address
	if address == "" {
		scanCtx, cancel := context.WithTimeout(ctx, cfg.Device.ScanTimeout)
		address, err = ble.Scan(scanCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	}

	m := device.NewManager(cfg, ble, st, log)
	if err := m.Connect(ctx, address); err != nil {
		return nil, err
	}
	log.Info().Str("address", address).Str("firmware", m.FirmwareVersion()).Msg("connected")
	return m, nil
}

// --- TUI ---

type TuiCmd struct{}

func (c *TuiCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	st, err := globals.openStore(cfg)
	if err != nil {
		return err
	}
	return tui.Run(cfg, st, globals.logger())
}

// --- Device commands ---

type ScanCmd struct{}

func (c *ScanCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.ScanTimeout)
	defer cancel()

	address, err := globals.newBLE(cfg, log).Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	m, err := globals.connect(context.Background(), cfg, globals.logger())
	if err != nil {
		return err
	}
	defer m.Close()

	fmt.Printf("firmware: %s\n", m.FirmwareVersion())
	return nil
}

type StatusCmd struct{}

func (c *StatusCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	m, err := globals.connect(context.Background(), cfg, globals.logger())
	if err != nil {
		return err
	}
	defer m.Close()

	st, err := m.Status(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("module present: %v\n", st.ModulePresent)
	for k, v := range st.Fields {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

type ReadCmd struct {
	Output string `arg:"" optional:"" help:"Also save the capture to this file"`
}

func (c *ReadCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	m, err := globals.connect(context.Background(), cfg, globals.logger())
	if err != nil {
		return err
	}
	defer m.Close()

	r, err := m.Capture(context.Background())
	if err != nil {
		return err
	}

	if r.New {
		fmt.Printf("captured new profile: %s\n", store.ShortHash(r.Hash))
	} else {
		fmt.Printf("profile already known: %s (added source)\n", store.ShortHash(r.Hash))
	}
	printMetadata(r.Metadata)

	if c.Output != "" {
		st, err := globals.openStore(cfg)
		if err != nil {
			return err
		}
		if err := st.Export(r.Hash, c.Output); err != nil {
			return err
		}
		fmt.Printf("saved to: %s\n", c.Output)
	}
	return nil
}

type WriteCmd struct {
	Hash     string `arg:"" optional:"" help:"Profile hash (full or prefix)"`
	File     string `short:"f" type:"existingfile" help:"Write from a raw EEPROM file instead of the library"`
	NoVerify bool   `help:"Skip the read-back verification pass"`
}

func (c *WriteCmd) Run(globals *CLI) error {
	if (c.Hash == "") == (c.File == "") {
		return fmt.Errorf("specify exactly one of a profile hash or --file")
	}

	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()
	m, err := globals.connect(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()

	var r *device.WriteResult
	if c.File != "" {
		img, err := loadImageFile(c.File, cfg.Protocol.ImageSize)
		if err != nil {
			return err
		}
		r, err = m.WriteImage(context.Background(), img, !c.NoVerify)
		if err != nil {
			return err
		}
	} else {
		r, err = m.WriteProfile(context.Background(), c.Hash, !c.NoVerify)
		if err != nil {
			return err
		}
	}

	if !r.Verified {
		fmt.Println("write transmitted (verification skipped)")
		return nil
	}
	if r.Verify.Match {
		fmt.Printf("write verified: %s\n", r.Verify.TargetChecksum)
		return nil
	}
	return fmt.Errorf("verification failed: first mismatch at offset %d", r.Verify.MismatchOffset)
}

type EraseCmd struct {
	Force bool `help:"Skip the confirmation prompt"`
}

func (c *EraseCmd) Run(globals *CLI) error {
	if !c.Force {
		fmt.Print("This blanks the inserted module irreversibly. Type 'yes' to continue: ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("aborted")
			return nil
		}
	}

	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	m, err := globals.connect(context.Background(), cfg, globals.logger())
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Erase(context.Background()); err != nil {
		return err
	}
	fmt.Println("module erased")
	return nil
}

// --- Serve ---

type ServeCmd struct {
	Addr string `help:"Listen address (overrides config)"`
}

func (c *ServeCmd) Run(globals *CLI) error {
	cfg, err := globals.loadConfig()
	if err != nil {
		return err
	}
	log := globals.logger()

	st, err := globals.openStore(cfg)
	if err != nil {
		return err
	}
	backups, err := globals.openBackups(cfg, st, log)
	if err != nil {
		return err
	}

	// The server is useful without hardware attached; device routes
	// answer 503 until a device connection exists.
	var dev api.Device
	if m, err := globals.connect(context.Background(), cfg, log); err == nil {
		defer m.Close()
		dev = m
	} else {
		log.Warn().Err(err).Msg("starting without a device connection")
	}

	addr := c.Addr
	if addr == "" {
		addr = cfg.APIAddr()
	}
	return api.NewServer(st, backups, dev, log).ListenAndServe(addr)
}
