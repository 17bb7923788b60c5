package commands

import (
	"fmt"
	"time"

	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/tlsclient"
)

// BrokerFlags configures the connection to the key broker.
type BrokerFlags struct {
	URL         string `help:"broker REST API base URL" env:"KEYLINK_BROKER_URL" required:""`
	AccessToken string `help:"bearer token sent to the broker" env:"KEYLINK_BROKER_ACCESS_TOKEN"`

	TLSCert string `help:"path to the mTLS client certificate (PEM)" env:"KEYLINK_BROKER_TLS_CERT"`
	TLSKey  string `help:"path to the mTLS client private key (PEM)" env:"KEYLINK_BROKER_TLS_KEY"`
	TLSCA   string `name:"tls-ca" help:"path to CA certificates trusted for the broker, defaults to the client certificate" env:"KEYLINK_BROKER_TLS_CA"`

	AuthEnabled    bool     `help:"send X-API-KEY headers from the key pools" default:"false" env:"KEYLINK_BROKER_AUTH_ENABLED"`
	ManagementKeys []string `help:"management API keys in failover order" env:"KEYLINK_BROKER_MANAGEMENT_KEYS"`
	OperationKeys  []string `help:"operation API keys in failover order" env:"KEYLINK_BROKER_OPERATION_KEYS"`
	ServiceKeys    []string `help:"service API keys in failover order" env:"KEYLINK_BROKER_SERVICE_KEYS"`

	AirGapped      bool          `help:"skip the license check and disable the validation helpers" default:"false" env:"KEYLINK_BROKER_AIR_GAPPED"`
	RequestTimeout time.Duration `help:"timeout for a single broker request" default:"30s" env:"KEYLINK_BROKER_REQUEST_TIMEOUT"`
	PollInterval   time.Duration `help:"interval between broker ticket polls" default:"5s" env:"KEYLINK_BROKER_POLL_INTERVAL"`
	AwaitTimeout   time.Duration `help:"how long to wait for a ticket before reporting it pending" default:"120s" env:"KEYLINK_BROKER_AWAIT_TIMEOUT"`
	ResyncInterval time.Duration `help:"delay between resyncs of pending statuses" default:"10s" env:"KEYLINK_BROKER_RESYNC_INTERVAL"`

	TokenExpiryWarning time.Duration `help:"warn when the access token expires within this window" default:"168h" env:"KEYLINK_BROKER_TOKEN_EXPIRY_WARNING"`
}

func (b *BrokerFlags) newClient() (*broker.Client, error) {
	if b.AccessToken != "" {
		broker.WarnAccessTokenExpiry(b.AccessToken, time.Now(), b.TokenExpiryWarning)
	}

	httpClient, err := tlsclient.New(tlsclient.Config{
		CertPath: b.TLSCert,
		KeyPath:  b.TLSKey,
		CAPath:   b.TLSCA,
		Timeout:  b.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create broker transport: %w", err)
	}

	client, err := broker.NewClient(broker.Config{
		BaseURL:     b.URL,
		AccessToken: b.AccessToken,
		HTTPClient:  httpClient,
		KeyRing: broker.NewKeyRing(broker.KeyRingConfig{
			Enabled:    b.AuthEnabled,
			Management: b.ManagementKeys,
			Operation:  b.OperationKeys,
			Service:    b.ServiceKeys,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create broker client: %w", err)
	}

	return client, nil
}
