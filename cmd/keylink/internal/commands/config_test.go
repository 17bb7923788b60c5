package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
)

const testConfig = `
api-key: secret
store-type: postgres
broker:
  url: https://tsb.example.com
  air-gapped: true
  poll-interval: 2s
  operation-keys:
    - op-1
    - op-2
postgres:
  conn-string: postgres://localhost/keylink
verify:
  signatures: true
  service-name: keylink
`

func TestYAMLConfiguration(t *testing.T) {
	var cli struct {
		Server ServerCmd `cmd:""`
	}

	resolver, err := YAML(strings.NewReader(testConfig))
	require.NoError(t, err)

	parser, err := kong.New(&cli, kong.Resolvers(resolver), kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"server"})
	require.NoError(t, err)

	require.Equal(t, "secret", cli.Server.APIKey)
	require.Equal(t, "postgres", cli.Server.StoreType)
	require.Equal(t, "https://tsb.example.com", cli.Server.Broker.URL)
	require.True(t, cli.Server.Broker.AirGapped)
	require.Equal(t, 2*time.Second, cli.Server.Broker.PollInterval)
	require.Equal(t, 120*time.Second, cli.Server.Broker.AwaitTimeout)
	require.Equal(t, []string{"op-1", "op-2"}, cli.Server.Broker.OperationKeys)
	require.Equal(t, "postgres://localhost/keylink", cli.Server.PostgresStore.ConnString)
	require.True(t, cli.Server.Verify.Signatures)
	require.Equal(t, "keylink", cli.Server.Verify.ServiceName)
}

func TestYAMLFlagsOverrideConfiguration(t *testing.T) {
	var cli struct {
		Server ServerCmd `cmd:""`
	}

	resolver, err := YAML(strings.NewReader(testConfig))
	require.NoError(t, err)

	parser, err := kong.New(&cli, kong.Resolvers(resolver))
	require.NoError(t, err)

	_, err = parser.Parse([]string{"server", "--api-key=override", "--broker-url=https://other.example.com"})
	require.NoError(t, err)

	require.Equal(t, "override", cli.Server.APIKey)
	require.Equal(t, "https://other.example.com", cli.Server.Broker.URL)
}

func TestYAMLEmptyConfiguration(t *testing.T) {
	resolver, err := YAML(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, resolver)
}

func TestDeleteKeyLabel(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "defaults to validation key", args: []string{"delete-key"}, want: "FIREBLOCKS_VALIDATION_KEY"},
		{name: "explicit label", args: []string{"delete-key", "other"}, want: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cli struct {
				DeleteKey DeleteKeyCmd `cmd:""`
			}

			parser, err := kong.New(&cli, kong.Vars(Vars()))
			require.NoError(t, err)

			_, err = parser.Parse(append(tt.args, "--broker-url=https://tsb.example.com"))
			require.NoError(t, err)
			require.Equal(t, tt.want, cli.DeleteKey.Label)
		})
	}
}
