package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/keylink-bridge/cmd/keylink/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug     bool                  `help:"Enable debug mode."`
		Version   kong.VersionFlag
		Config    kong.ConfigFlag       `help:"Load configuration from a YAML file." env:"KEYLINK_CONFIG"`
		Server    commands.ServerCmd    `cmd:"" help:"Start the signing bridge"`
		License   commands.LicenseCmd   `cmd:"" help:"Check the broker license"`
		DeleteKey commands.DeleteKeyCmd `cmd:"" help:"Delete a key from the broker"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.Vars(commands.Vars()),
		kong.Configuration(commands.YAML),
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
