package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/logger"
)

// LicenseCmd checks broker connectivity and reports the license flags.
type LicenseCmd struct {
	Broker BrokerFlags `embed:"" prefix:"broker-"`
}

func (c *LicenseCmd) Run(ctx context.Context, globals *Globals) error {
	zlog.Logger = logger.Setup(globals.Debug)

	client, err := c.Broker.newClient()
	if err != nil {
		return err
	}

	license, err := client.GetLicense(ctx)
	if err != nil {
		return fmt.Errorf("failed to read broker license: %w", err)
	}

	fmt.Fprintf(os.Stdout, "client flags: %s\n", strings.Join(license.ClientFlags, ", "))

	if !license.HasFlag(broker.LicenseFlagAgent) {
		return fmt.Errorf("license is missing the %s flag", broker.LicenseFlagAgent)
	}

	fmt.Fprintln(os.Stdout, "license allows signing")
	return nil
}
