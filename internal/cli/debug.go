package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/josiah-nelson/sfplib/internal/explore"
)

// DebugCmd groups protocol exploration tools. These write raw payloads at
// the device; use them against expendable hardware.
type DebugCmd struct {
	Explore  DebugExploreCmd  `cmd:"" help:"List all GATT services and characteristics"`
	Patterns DebugPatternsCmd `cmd:"" help:"Probe the device with the pattern corpus"`
}

type DebugExploreCmd struct {
	Log string `default:"exploration.jsonl" help:"JSONL event log path"`
}

func (c *DebugExploreCmd) Run(globals *CLI) error {
	e, cleanup, err := c.openExplorer(globals, c.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	services, err := e.DiscoverServices(context.Background())
	if err != nil {
		return err
	}

	for _, svc := range services {
		fmt.Printf("service %s\n", svc.UUID)
		for _, char := range svc.Characteristics {
			fmt.Printf("  characteristic %s %v\n", char.UUID, char.Properties)
		}
	}
	return nil
}

type DebugPatternsCmd struct {
	Log string `default:"exploration.jsonl" help:"JSONL event log path"`
}

func (c *DebugPatternsCmd) Run(globals *CLI) error {
	e, cleanup, err := c.openExplorer(globals, c.Log)
	if err != nil {
		return err
	}
	defer cleanup()

	results := e.TestPatterns(context.Background(), explore.Patterns())

	responded := 0
	for _, r := range results {
		if r.ResponseHex != "" {
			responded++
			fmt.Printf("  %-28s -> %s\n", r.Pattern.Description, r.ResponseHex)
		}
	}
	fmt.Printf("%d of %d probes drew a response (session %s, log %s)\n",
		responded, len(results), e.SessionID(), c.Log)
	return nil
}

func (c *DebugExploreCmd) openExplorer(globals *CLI, logPath string) (*explore.Explorer, func(), error) {
	return openExplorer(globals, logPath)
}

func (c *DebugPatternsCmd) openExplorer(globals *CLI, logPath string) (*explore.Explorer, func(), error) {
	return openExplorer(globals, logPath)
}

func openExplorer(globals *CLI, logPath string) (*explore.Explorer, func(), error) {
	cfg, err := globals.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := globals.logger()

	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}

	ble := globals.newBLE(cfg, log)
	address := globals.Address
	if address == "" {
		scanCtx, cancel := context.WithTimeout(context.Background(), cfg.Device.ScanTimeout)
		address, err = ble.Scan(scanCtx)
		cancel()
		if err != nil {
			out.Close()
			return nil, nil, err
		}
	}

	e := explore.New(ble, out, log)
	if err := e.Connect(context.Background(), address); err != nil {
		out.Close()
		return nil, nil, err
	}
	return e, func() { e.Close(); out.Close() }, nil
}
