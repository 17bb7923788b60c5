// Package tlsclient builds the HTTP client used to reach the signing broker, with
// mutual TLS when a client certificate and key are configured.
package tlsclient

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"golang.org/x/net/http2"
)

// Config for loading the client identity.
type Config struct {
	CertPath string
	KeyPath  string

	// CAPath overrides the trust anchors used to verify the broker. When empty and
	// mutual TLS is active, the client certificate itself is the sole trusted root.
	CAPath string

	Timeout time.Duration
}

// Enabled reports whether both halves of the client identity are configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.CertPath) != "" && strings.TrimSpace(c.KeyPath) != ""
}

// Certificates holds certificate data in memory
type Certificates struct {
	CACert     []byte
	ClientCert []byte
	ClientKey  []byte
}

// Load reads the certificate, key and optional CA bundle from disk.
func Load(cfg Config) (*Certificates, error) {
	certs := &Certificates{}

	clientCert, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, err, "failed to read client certificate")
	}
	certs.ClientCert = clientCert

	clientKey, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, errs.Wrap(errs.CodeFileNotFound, err, "failed to read client key")
	}
	certs.ClientKey = clientKey

	if cfg.CAPath != "" {
		caCert, err := os.ReadFile(cfg.CAPath)
		if err != nil {
			return nil, errs.Wrap(errs.CodeFileNotFound, err, "failed to read CA certificate")
		}
		certs.CACert = caCert
	}

	return certs, nil
}

// TLSConfig creates a client tls.Config from certificates
func (c *Certificates) TLSConfig() (*tls.Config, error) {
	certBlock, _ := pem.Decode(c.ClientCert)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, errs.New(errs.CodeReadingPEM, "client certificate is not a PEM CERTIFICATE")
	}
	leaf, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, errs.Wrap(errs.CodeParsingCertificate, err, "failed to parse client certificate")
	}

	key, err := ParsePrivateKey(c.ClientKey)
	if err != nil {
		return nil, err
	}

	roots := x509.NewCertPool()
	if len(c.CACert) > 0 {
		if !roots.AppendCertsFromPEM(c.CACert) {
			return nil, errs.New(errs.CodeInvalidCryptoFile, "failed to parse CA certificate")
		}
	} else {
		roots.AddCert(leaf)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certBlock.Bytes},
			PrivateKey:  key,
			Leaf:        leaf,
		}},
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// ParsePrivateKey parses a PEM encoded private key. PKCS#8 is expected; PKCS#1 and SEC 1
// blocks are also accepted. Only signing keys can be used as a TLS identity.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.New(errs.CodeReadingPEM, "client key is not PEM encoded")
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		key, err = x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeParsingKey, err, "failed to parse client key")
	}

	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	case *ecdh.PrivateKey:
		return nil, errs.New(errs.CodeParsingKey, "client key %s cannot sign", k.Curve())
	default:
		return nil, errs.New(errs.CodeParsingKey, "unsupported client key type %T", key)
	}
}

// New returns a pooled keep-alive HTTP client. When cfg enables mutual TLS any failure
// to load the identity is returned; the caller must not fall back to plain TLS.
func New(cfg Config) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	if cfg.Enabled() {
		certs, err := Load(cfg)
		if err != nil {
			return nil, err
		}
		tlsConfig, err := certs.TLSConfig()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig

		log.Info().
			Str("cert", cfg.CertPath).
			Bool("custom_ca", cfg.CAPath != "").
			Msg("Mutual TLS enabled for broker connections")
	}

	if _, err := http2.ConfigureTransports(transport); err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "failed to configure http2 transport")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
