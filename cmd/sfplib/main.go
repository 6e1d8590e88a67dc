package main

import (
	"github.com/alecthomas/kong"

	"github.com/josiah-nelson/sfplib/internal/cli"
)

func main() {
	var root cli.CLI
	ctx := kong.Parse(&root,
		kong.Name("sfplib"),
		kong.Description("SFP module EEPROM profile manager over BLE"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&root))
}
