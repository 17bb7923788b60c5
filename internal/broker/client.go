// Package broker talks to the HSM backed signing broker over its REST API.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
)

const maxResponseBytes = 4 << 20

const (
	reasonKeyAlreadyExisting = "res.error.key.already.existing"
	reasonKeyNotExistent     = "res.error.key.not.existent"
)

// Config configures a broker client.
type Config struct {
	// BaseURL is the broker REST endpoint, e.g. https://tsb.example.com
	BaseURL string

	// AccessToken is sent as a bearer token on every request when set.
	AccessToken string

	// HTTPClient supplies the transport, typically the mutual TLS client. Defaults to
	// http.DefaultTransport with a 30 second timeout.
	HTTPClient *http.Client

	KeyRing *KeyRing
}

// Client performs broker operations. It holds no per request state.
type Client struct {
	baseURL     string
	keys        *KeyRing
	httpClient  *http.Client
	cacheClient *http.Client
}

// NewClient creates a broker client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.New(errs.CodeInvalidConfigInput, "invalid broker url %q", cfg.BaseURL)
	}

	var (
		transport http.RoundTripper = http.DefaultTransport
		timeout                     = 30 * time.Second
	)
	if cfg.HTTPClient != nil {
		if cfg.HTTPClient.Transport != nil {
			transport = cfg.HTTPClient.Transport
		}
		if cfg.HTTPClient.Timeout > 0 {
			timeout = cfg.HTTPClient.Timeout
		}
	}

	transport = otelhttp.NewTransport(transport)

	if token := strings.TrimSpace(cfg.AccessToken); token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   transport,
		}
	}

	// License lookups honour the broker's cache headers.
	cache := httpcache.NewTransport(httpcache.NewMemoryCache())
	cache.Transport = transport

	keys := cfg.KeyRing
	if keys == nil {
		keys = NewKeyRing(KeyRingConfig{})
	}

	return &Client{
		baseURL:     base.String(),
		keys:        keys,
		httpClient:  &http.Client{Transport: transport, Timeout: timeout},
		cacheClient: &http.Client{Transport: cache, Timeout: timeout},
	}, nil
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status == http.StatusOK || r.status == http.StatusCreated
}

// apiError decodes the broker error convention. Bodies that are not JSON yield a zero value.
func (r *response) apiError() errorResponse {
	var e errorResponse
	_ = json.Unmarshal(r.body, &e)
	return e
}

// do sends a request, rotating the API key of class each time the broker reports it
// invalid. The number of attempts is bounded by the size of the key pool.
func (c *Client) do(ctx context.Context, hc *http.Client, class TokenClass, method, path string, body any) (*response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errs.Wrap(errs.CodeImplementation, err, "failed to encode broker request")
		}
	}

	maxAttempts := c.keys.Size(class) + 1

	for attempt := 1; ; attempt++ {
		key := c.keys.Current(class)

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, errs.Wrap(errs.CodeImplementation, err, "failed to build broker request")
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if key != "" {
			req.Header.Set("X-API-KEY", key)
		}

		resp, err := hc.Do(req)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInSubsystem, err, "error executing broker request %s %s", method, path)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, errs.Wrap(errs.CodeInSubsystem, err, "error reading broker response %s %s", method, path)
		}

		res := &response{status: resp.StatusCode, body: data}

		if key != "" && res.status == http.StatusUnauthorized && attempt < maxAttempts &&
			res.apiError().ErrorCode == int(errs.CodeInvalidAPIKey) {
			if !c.keys.Rotate(class) {
				return res, nil
			}
			telemetry.GetMetrics().KeyRotationsTotal.Add(ctx, 1,
				metric.WithAttributes(attribute.String("class", class.String())))
			log.Warn().
				Str("class", class.String()).
				Str("path", path).
				Bool("exhausted", c.keys.Exhausted(class)).
				Msg("Broker rejected API key, rotating")
			continue
		}

		log.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", res.status).
			Msg("Broker response")

		return res, nil
	}
}

func unauthorized(op string) error {
	return errs.New(errs.CodeOperationForbidden, "unauthorized to broker for %s request", op)
}

func unexpected(op string, res *response) error {
	return errs.New(errs.CodeInSubsystem, "broker %s failed: %d: %s", op, res.status, strings.TrimSpace(string(res.body)))
}

func decode(op string, res *response, out any) error {
	if err := json.Unmarshal(res.body, out); err != nil {
		return errs.Wrap(errs.CodeInSubsystem, err, "invalid broker %s response", op)
	}
	return nil
}

// CreateOrUpdateKey creates a key on the broker.
func (c *Client) CreateOrUpdateKey(ctx context.Context, in CreateKeyInput) error {
	body := createKeyRequest{
		Label:      in.Label,
		Algorithm:  in.Algorithm,
		Password:   in.Password,
		CurveOID:   in.CurveOID,
		Attributes: defaultKeyAttributes,
	}
	if in.KeySize > 0 {
		body.KeySize = in.KeySize
	}

	res, err := c.do(ctx, c.httpClient, TokenManagement, http.MethodPost, "/v1/key", body)
	if err != nil {
		return err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return unauthorized("create key")
	case res.apiError().ErrorCode == int(errs.CodeKeyAlreadyExisting):
		return errs.New(errs.CodeKeyAlreadyExisting, "key %q already exists", in.Label)
	case !res.ok():
		return unexpected("create key", res)
	}

	log.Info().Str("label", in.Label).Str("algorithm", in.Algorithm).Msg("Created broker key")
	return nil
}

// GetKeyAttributes returns the public attributes of a key.
func (c *Client) GetKeyAttributes(ctx context.Context, label, password string) (*KeyAttributes, error) {
	res, err := c.do(ctx, c.httpClient, TokenManagement, http.MethodPost, "/v1/key/attributes",
		keyAttributesRequest{Label: label, Password: password})
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return nil, unauthorized("get key attributes")
	case res.apiError().ErrorCode == int(errs.CodeKeyNotExistent):
		return nil, errs.New(errs.CodeKeyNotExistent, "key %q does not exist", label)
	case !res.ok():
		return nil, unexpected("get key attributes", res)
	}

	var out keyAttributesResponse
	if err := decode("get key attributes", res, &out); err != nil {
		return nil, err
	}

	attrs := &KeyAttributes{
		PublicKey: out.JSON.PublicKey,
		Algorithm: out.JSON.Algorithm,
	}
	if out.JSON.KeySize != nil {
		attrs.KeySize = *out.JSON.KeySize
	}
	if out.JSON.CurveOID != nil {
		attrs.CurveOID = *out.JSON.CurveOID
	}
	if attrs.CurveOID == "" && strings.EqualFold(attrs.Algorithm, "ED") && out.JSON.AlgorithmOID != nil {
		attrs.CurveOID = *out.JSON.AlgorithmOID
	}

	return attrs, nil
}

// Sign submits a signing request and returns the ticket ID. A blank label signs with
// the default signing key, creating it first if needed.
func (c *Client) Sign(ctx context.Context, in SignInput) (string, error) {
	label := in.Label
	if strings.TrimSpace(label) == "" {
		label = DefaultSigningKeyLabel
		err := c.CreateOrUpdateKey(ctx, CreateKeyInput{
			Label:     DefaultSigningKeyLabel,
			Algorithm: defaultSigningKeyAlg,
			CurveOID:  defaultSigningKeyOID,
		})
		if err != nil && !errs.IsConflict(err) {
			return "", err
		}
	}

	body := signRequestBody{SignRequest: signRequest{
		Payload:            in.Payload,
		PayloadType:        in.PayloadType,
		SignKeyName:        label,
		KeyPassword:        in.Password,
		SignatureAlgorithm: in.Algorithm,
		SignatureType:      in.SignatureType,
		MetaData:           in.Metadata,
		MetaDataSignature:  in.MetadataSignature,
	}}

	res, err := c.do(ctx, c.httpClient, TokenOperation, http.MethodPost, "/v1/sign", body)
	if err != nil {
		return "", err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return "", unauthorized("signing")
	case !res.ok() && res.apiError().Reason == reasonKeyAlreadyExisting:
		return "", errs.New(errs.CodeKeyAlreadyExisting, "key %q already exists", label)
	case !res.ok():
		return "", unexpected("sign", res)
	}

	var out signRequestIDResponse
	if err := decode("sign", res, &out); err != nil {
		return "", err
	}
	if out.SignRequestID == "" {
		return "", errs.New(errs.CodeInSubsystem, "broker sign response carried no request id")
	}

	return out.SignRequestID, nil
}

// GetTicket fetches the current state of a ticket. It is safe to call repeatedly.
func (c *Client) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	res, err := c.do(ctx, c.httpClient, TokenOperation, http.MethodGet, "/v1/request/"+url.PathEscape(ticketID), nil)
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return nil, unauthorized("get status")
	case res.status != http.StatusOK:
		return nil, unexpected("get request", res)
	}

	var t Ticket
	if err := decode("get request", res, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func newCertificateRequest(in CertificateInput, keyUsage string) certificateRequest {
	return certificateRequest{
		SignKeyName:                   in.Label,
		KeyPassword:                   in.Password,
		SignatureAlgorithm:            in.SignatureAlgorithm,
		StandardCertificateAttributes: certificateAttributes{CommonName: in.Label},
		KeyUsage:                      []string{keyUsage},
		ExtendedKeyUsage:              []string{"ANY_EXTENDED_KEY_USAGE"},
	}
}

func (c *Client) certificateCall(ctx context.Context, op, path string, body any) (*response, error) {
	res, err := c.do(ctx, c.httpClient, TokenManagement, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return nil, unauthorized(op)
	case !res.ok() && res.apiError().Reason == reasonKeyAlreadyExisting:
		return nil, errs.New(errs.CodeKeyAlreadyExisting, "broker %s: key already exists", op)
	case !res.ok():
		return nil, unexpected(op, res)
	}

	return res, nil
}

// GenerateCertificateRequest starts an asynchronous CSR for a policy protected key and
// returns the ticket ID.
func (c *Client) GenerateCertificateRequest(ctx context.Context, in CertificateInput) (string, error) {
	res, err := c.certificateCall(ctx, "certificate request", "/v1/certificate/request",
		csrSignRequestBody{CSRSignRequest: newCertificateRequest(in, "DIGITAL_SIGNATURE")})
	if err != nil {
		return "", err
	}

	var out signRequestIDResponse
	if err := decode("certificate request", res, &out); err != nil {
		return "", err
	}
	return out.SignRequestID, nil
}

// GenerateSynchronousCertificateRequest returns a PEM CSR for the key.
func (c *Client) GenerateSynchronousCertificateRequest(ctx context.Context, in CertificateInput) (string, error) {
	res, err := c.certificateCall(ctx, "synchronous certificate request", "/v1/certificate/synchronous/request",
		newCertificateRequest(in, "DIGITAL_SIGNATURE"))
	if err != nil {
		return "", err
	}

	var out synchronousCSRResponse
	if err := decode("synchronous certificate request", res, &out); err != nil {
		return "", err
	}
	return out.CertificateSigningRequest, nil
}

// SignCertificate signs csr with the given key and returns the certificate PEM.
func (c *Client) SignCertificate(ctx context.Context, in CertificateInput, csr string) (string, error) {
	body := newCertificateRequest(in, "DIGITAL_SIGNATURE")
	body.Validity = certificateValidityDays
	body.CertificateAuthority = new(bool)
	body.CertificateSigningRequest = csr

	res, err := c.certificateCall(ctx, "certificate sign", "/v1/certificate/synchronous/sign", body)
	if err != nil {
		return "", err
	}
	return certificateFrom(res), nil
}

// SelfSign creates a self signed CA certificate bound to the key and returns it.
func (c *Client) SelfSign(ctx context.Context, in CertificateInput) (string, error) {
	ca := true
	body := newCertificateRequest(in, "KEY_CERT_SIGN")
	body.Validity = certificateValidityDays
	body.CertificateAuthority = &ca

	res, err := c.certificateCall(ctx, "self-sign certificate", "/v1/certificate/synchronous/selfsign", body)
	if err != nil {
		return "", err
	}
	return certificateFrom(res), nil
}

// certificateFrom returns the certificate field, or the whole body when the broker
// omits it.
func certificateFrom(res *response) string {
	var out struct {
		Certificate *string `json:"certificate"`
	}
	if err := json.Unmarshal(res.body, &out); err == nil && out.Certificate != nil {
		return *out.Certificate
	}
	return string(res.body)
}

// DeleteKey removes a key. Deleting a key that does not exist succeeds.
func (c *Client) DeleteKey(ctx context.Context, label string) error {
	res, err := c.do(ctx, c.httpClient, TokenManagement, http.MethodDelete, "/v1/key/"+url.PathEscape(label), nil)
	if err != nil {
		return err
	}

	if res.status == http.StatusUnauthorized {
		return unauthorized("delete key")
	}
	if res.status == http.StatusOK || res.status == http.StatusNoContent {
		return nil
	}

	apiErr := res.apiError()
	if apiErr.Reason == reasonKeyNotExistent || apiErr.ErrorCode == int(errs.CodeKeyNotExistent) {
		log.Info().Str("label", label).Msg("Key does not exist, nothing to delete")
		return nil
	}

	return unexpected("delete key", res)
}

// GetLicense returns the broker license.
func (c *Client) GetLicense(ctx context.Context) (*License, error) {
	res, err := c.do(ctx, c.cacheClient, TokenService, http.MethodGet, "/v1/licenseInfo", nil)
	if err != nil {
		return nil, err
	}

	switch {
	case res.status == http.StatusUnauthorized:
		return nil, unauthorized("license")
	case res.status != http.StatusOK:
		return nil, unexpected("get license", res)
	}

	var l License
	if err := decode("get license", res, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// ErrUnlicensed is returned when the broker license lacks the agent flag.
var ErrUnlicensed = errors.New("broker license does not carry the " + LicenseFlagAgent + " flag")

// CheckLicense verifies the broker license allows signing. Air gapped brokers skip the check.
func (c *Client) CheckLicense(ctx context.Context, airGapped bool) error {
	if airGapped {
		return nil
	}
	l, err := c.GetLicense(ctx)
	if err != nil {
		return err
	}
	if !l.HasFlag(LicenseFlagAgent) {
		return errs.Wrap(errs.CodeClientSubscription, ErrUnlicensed,
			"your current HSM subscription does not support this operation")
	}
	return nil
}
