package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	zlog "github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/logger"
	"github.com/wolfeidau/keylink-bridge/internal/server"
	"github.com/wolfeidau/keylink-bridge/internal/sigcodec"
	"github.com/wolfeidau/keylink-bridge/internal/signing"
	"github.com/wolfeidau/keylink-bridge/internal/store"
	memorystore "github.com/wolfeidau/keylink-bridge/internal/store/memory"
	postgresstore "github.com/wolfeidau/keylink-bridge/internal/store/postgres"
	"github.com/wolfeidau/keylink-bridge/internal/telemetry"
	"github.com/wolfeidau/keylink-bridge/internal/validation"
)

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"KEYLINK_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"KEYLINK_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"KEYLINK_TLS_KEY"`
	APIKey string `name:"api-key" help:"value expected in the Authorization header of API requests" env:"KEYLINK_API_KEY"`

	CORSOrigins []string `help:"allowed CORS origins for API requests" env:"KEYLINK_CORS_ORIGINS"`
	Telemetry   bool     `help:"export metrics and traces over OTLP" default:"false" env:"KEYLINK_TELEMETRY"`

	MetricInterval time.Duration `help:"OTLP metric export interval" default:"30s" env:"KEYLINK_METRIC_INTERVAL"`

	Verify VerifyFlags `embed:"" prefix:"verify-"`
	Broker BrokerFlags `embed:"" prefix:"broker-"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"KEYLINK_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

// VerifyFlags configures verification of inbound envelope signatures.
type VerifyFlags struct {
	Signatures  bool   `help:"verify envelope signatures before signing" default:"false" env:"KEYLINK_VERIFY_SIGNATURES"`
	ServiceName string `help:"service name expected on envelope signatures" default:"" env:"KEYLINK_VERIFY_SERVICE_NAME"`
	Certificate string `help:"path to the certificate holding the verification key" env:"KEYLINK_VERIFY_CERTIFICATE"`
	PublicKey   string `help:"path to the verification public key (PEM), used when no certificate is set" env:"KEYLINK_VERIFY_PUBLIC_KEY"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	ConnectWait     time.Duration `help:"how long to wait for the database at startup" default:"30s"`
	QueryTimeout    int32         `help:"query timeout in seconds" default:"10"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"KEYLINK_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("API key is required (--api-key or KEYLINK_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Telemetry {
		log.Info().Msg("Telemetry is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName:    "keylink-bridge",
			Version:        globals.Version,
			MetricInterval: c.MetricInterval,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	brokerClient, err := c.Broker.newClient()
	if err != nil {
		return err
	}
	awaiter := broker.NewAwaiter(brokerClient, c.Broker.PollInterval, c.Broker.AwaitTimeout)

	var messageStore store.MessageStore

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.validate(); err != nil {
			return err
		}

		pool, err := postgresstore.NewPool(ctx, postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
			ConnectWait:     c.PostgresStore.ConnectWait,
		})
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		messageStore, err = postgresstore.NewMessageStore(ctx, pool, postgresstore.MessageStoreConfig{
			AutoMigrate:         c.PostgresStore.AutoMigrate,
			QueryTimeoutSeconds: c.PostgresStore.QueryTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create message store: %w", err)
		}

		log.Info().Bool("auto_migrate", c.PostgresStore.AutoMigrate).Msg("Using PostgreSQL message store")

	default:
		messageStore = memorystore.NewMessageStore()
		log.Info().Msg("Using in-memory message store")
	}

	var verifier signing.SignatureVerifier
	if c.Verify.Signatures {
		key, err := sigcodec.LoadPublicKey(c.Verify.Certificate, c.Verify.PublicKey)
		if err != nil {
			return fmt.Errorf("failed to load verification key: %w", err)
		}
		v := sigcodec.NewVerifier(c.Verify.ServiceName, key)
		log.Info().Str("service_name", c.Verify.ServiceName).Msg("Envelope signature verification is enabled")
		log.Debug().Str("public_key", v.PublicKeyPEM()).Msg("Loaded verification key")
		verifier = v
	}

	orchestrator, err := signing.New(brokerClient, awaiter, messageStore, verifier, signing.Config{
		VerifySignatures: c.Verify.Signatures,
		AirGapped:        c.Broker.AirGapped,
	})
	if err != nil {
		return err
	}

	scheduler := signing.NewScheduler(ctx, orchestrator, c.Broker.ResyncInterval, signing.DefaultResyncInitialDelay)
	defer scheduler.Stop()

	var validator server.Validator
	if !c.Broker.AirGapped {
		validator = validation.NewCertificateService(brokerClient, awaiter)
	} else {
		log.Info().Msg("Air gapped, validation helpers are disabled")
	}

	handler := server.NewServer(orchestrator, validator, server.Config{
		APIKey:    c.APIKey,
		AirGapped: c.Broker.AirGapped,
		Version:   globals.Version,
	}).Handler(log)

	if len(c.CORSOrigins) > 0 {
		handler = withCORS(c.CORSOrigins, handler)
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		tls := c.Cert != "" && c.Key != ""
		log.Info().Str("addr", c.Listen).Bool("tls", tls).Msg("Starting HTTP server")
		if tls {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// withCORS adds CORS support for browser based API clients.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})
	return middleware.Handler(h)
}
