package commands

import (
	"context"
	"fmt"
	"os"

	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/logger"
	"github.com/wolfeidau/keylink-bridge/internal/validation"
)

// DeleteKeyCmd removes a key from the broker, typically the validation key before it is recreated.
type DeleteKeyCmd struct {
	Label  string      `arg:"" optional:"" help:"label of the key to delete" default:"${validation_key}"`
	Broker BrokerFlags `embed:"" prefix:"broker-"`
}

func (c *DeleteKeyCmd) Run(ctx context.Context, globals *Globals) error {
	zlog.Logger = logger.Setup(globals.Debug)

	client, err := c.Broker.newClient()
	if err != nil {
		return err
	}

	if err := client.DeleteKey(ctx, c.Label); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", c.Label, err)
	}

	fmt.Fprintf(os.Stdout, "deleted key %s\n", c.Label)
	return nil
}

// Vars returns the interpolation variables used by command defaults.
func Vars() map[string]string {
	return map[string]string{
		"validation_key": validation.KeyLabel,
	}
}
