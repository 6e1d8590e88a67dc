package cli

import (
	"fmt"
	"os"

	"github.com/josiah-nelson/sfplib/internal/eeprom"
	"github.com/josiah-nelson/sfplib/internal/util"
)

// ParseCmd inspects an EEPROM dump without any device connection.
type ParseCmd struct {
	File string `arg:"" type:"existingfile" help:"EEPROM binary file to parse"`
	Hex  bool   `help:"Also print a hex dump"`
}

func (c *ParseCmd) Run(globals *CLI) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}

	printMetadata(eeprom.ParseBytes(data))
	fmt.Printf("  %-14s %d bytes\n", "size:", len(data))

	if c.Hex {
		fmt.Println()
		fmt.Print(util.HexDump(data))
	}
	return nil
}

func printMetadata(meta *eeprom.Metadata) {
	if meta == nil {
		return
	}
	fmt.Printf("  %-14s %s\n", "type:", meta.ModuleType)
	if meta.VendorName != "" {
		fmt.Printf("  %-14s %s\n", "vendor:", meta.VendorName)
	}
	if meta.VendorOUI != "" {
		fmt.Printf("  %-14s %s\n", "oui:", meta.VendorOUI)
	}
	if meta.PartNumber != "" {
		fmt.Printf("  %-14s %s\n", "part:", meta.PartNumber)
	}
	if meta.SerialNumber != "" {
		fmt.Printf("  %-14s %s\n", "serial:", meta.SerialNumber)
	}
	if meta.DateCode != "" {
		fmt.Printf("  %-14s %s\n", "date code:", meta.DateCode)
	}
	if meta.Connector != "" {
		fmt.Printf("  %-14s %s\n", "connector:", meta.Connector)
	}
	if meta.WavelengthNM > 0 {
		fmt.Printf("  %-14s %d nm\n", "wavelength:", meta.WavelengthNM)
	}
	if meta.BitrateMbps > 0 {
		fmt.Printf("  %-14s %d Mbps\n", "bitrate:", meta.BitrateMbps)
	}
	fmt.Printf("  %-14s %v\n", "cc_base ok:", meta.CCBaseValid)
}

func loadImageFile(path string, wantSize int) (*eeprom.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return eeprom.NewImage(data, wantSize, eeprom.SourceFile)
}
