// Package validation creates the validation key and the certificates and proofs of
// ownership that bind asset keys to it.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/models"
)

const (
	// KeyLabel is the broker label of the validation key.
	KeyLabel = "FIREBLOCKS_VALIDATION_KEY"

	ed25519OID           = "1.3.101.112"
	defaultRSAKeySize    = 2048
	proofOfOwnershipName = "Proof of Ownership Message"
)

// Broker is the subset of the broker client used for validation flows.
type Broker interface {
	CreateOrUpdateKey(ctx context.Context, in broker.CreateKeyInput) error
	GetKeyAttributes(ctx context.Context, label, password string) (*broker.KeyAttributes, error)
	Sign(ctx context.Context, in broker.SignInput) (string, error)
	GenerateCertificateRequest(ctx context.Context, in broker.CertificateInput) (string, error)
	GenerateSynchronousCertificateRequest(ctx context.Context, in broker.CertificateInput) (string, error)
	SignCertificate(ctx context.Context, in broker.CertificateInput, csr string) (string, error)
	SelfSign(ctx context.Context, in broker.CertificateInput) (string, error)
}

// TicketAwaiter waits for a broker ticket to leave the pending state.
type TicketAwaiter interface {
	AwaitTerminal(ctx context.Context, ticketID string) (*broker.Ticket, error)
}

// CertificateService runs the validation key, certificate and proof of ownership flows.
type CertificateService struct {
	broker  Broker
	awaiter TicketAwaiter
	now     func() time.Time
}

// NewCertificateService creates a certificate service.
func NewCertificateService(b Broker, awaiter TicketAwaiter) *CertificateService {
	return &CertificateService{broker: b, awaiter: awaiter, now: time.Now}
}

// CreateValidationKeyRequest describes the validation key to create. Every field is optional
// for RSA.
type CreateValidationKeyRequest struct {
	Algorithm string `json:"algorithm,omitempty"`
	CurveOID  string `json:"curveOid,omitempty"`
	KeySize   *int   `json:"keySize,omitempty"`
}

type CreateValidationKeyResponse struct {
	PublicKeyPEM string `json:"publicKeyPem"`
}

type CreateValidationsRequest struct {
	AssetKeyName      string `json:"assetKeyName"`
	AssetKeyAlgorithm string `json:"assetKeyAlgorithm"`
	IsSKAKey          bool   `json:"isSkaKey"`
}

type CreateValidationResponse struct {
	Certificate string `json:"certificate"`
}

type ProofOfOwnershipRequest struct {
	AssetKeyName         string `json:"assetKeyName"`
	AssetKeyAlgorithm    string `json:"assetKeyAlgorithm"`
	WorkspaceDisplayName string `json:"workspaceDisplayName"`
	SDKAPIKey            string `json:"sdkApiKey"`
}

type Proof struct {
	Message   string `json:"message"`   // hex
	Signature string `json:"signature"` // hex
}

type ProofOfOwnershipResponse struct {
	ProofOfOwnership Proof `json:"proofOfOwnership"`
	Timestamp        int64 `json:"timestamp"`
}

type ValidationProofOfOwnershipRequest struct {
	AssetKeyName         string `json:"assetKeyName"`
	AssetKeyAlgorithm    string `json:"assetKeyAlgorithm"`
	WorkspaceDisplayName string `json:"workspaceDisplayName"`
	SDKAPIKey            string `json:"sdkApiKey"`
	AgentUserID          string `json:"agentUserId"`
	IsSKAKey             bool   `json:"isSkaKey"`
}

type ValidationProofOfOwnershipResponse struct {
	SigningDeviceKeyID string `json:"signingDeviceKeyId"`
	SignedCertPEM      string `json:"signedCertPem"`
	AgentUserID        string `json:"agentUserId"`
	ProofOfOwnership   Proof  `json:"proofOfOwnership"`
}

// CreateValidationKey creates the validation key, self signs it and returns its public key as PEM.
func (s *CertificateService) CreateValidationKey(ctx context.Context, req CreateValidationKeyRequest) (string, error) {
	algorithm := strings.ToUpper(strings.TrimSpace(req.Algorithm))
	if algorithm == "" {
		algorithm = "RSA"
	}

	keySize := 0
	switch algorithm {
	case "RSA":
		keySize = defaultRSAKeySize
		if req.KeySize != nil && *req.KeySize > 0 {
			keySize = *req.KeySize
		}
		if req.CurveOID != "" {
			return "", errs.New(errs.CodeInvalidJSON, "curveOid must not be provided for RSA algorithm")
		}
	case "EC", "ED":
		if req.KeySize != nil {
			return "", errs.New(errs.CodeInvalidJSON, "keySize must not be provided for EC or ED algorithms")
		}
		if strings.TrimSpace(req.CurveOID) == "" {
			return "", errs.New(errs.CodeInvalidJSON, "curveOid is mandatory for EC or ED algorithms")
		}
	default:
		return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported algorithm: %s", algorithm)
	}

	signatureAlgorithm, err := SelectSignatureAlgorithm(algorithm, keySize, req.CurveOID)
	if err != nil {
		return "", err
	}

	err = s.broker.CreateOrUpdateKey(ctx, broker.CreateKeyInput{
		Label:     KeyLabel,
		Algorithm: algorithm,
		CurveOID:  req.CurveOID,
		KeySize:   keySize,
	})
	if err != nil {
		return "", err
	}

	attrs, err := s.broker.GetKeyAttributes(ctx, KeyLabel, "")
	if err != nil {
		return "", err
	}

	if _, err := s.broker.SelfSign(ctx, broker.CertificateInput{Label: KeyLabel, SignatureAlgorithm: signatureAlgorithm}); err != nil {
		return "", err
	}

	log.Info().Str("algorithm", algorithm).Int("key_size", keySize).Str("curve_oid", req.CurveOID).Msg("Created validation key")

	return PublicKeyPEM(attrs.PublicKey)
}

// GenerateCSR creates a certificate signing request for an asset key. SKA keys are
// subject to broker approval so their request goes through a ticket.
func (s *CertificateService) GenerateCSR(ctx context.Context, req CreateValidationsRequest) (string, error) {
	signatureAlgorithm, err := csrAlgorithm(req.AssetKeyAlgorithm)
	if err != nil {
		return "", err
	}

	in := broker.CertificateInput{Label: req.AssetKeyName, SignatureAlgorithm: signatureAlgorithm}

	if !req.IsSKAKey {
		return s.broker.GenerateSynchronousCertificateRequest(ctx, in)
	}

	ticketID, err := s.broker.GenerateCertificateRequest(ctx, in)
	if err != nil {
		return "", err
	}

	return s.awaitResult(ctx, ticketID, "certificate request")
}

// SignCSR signs a certificate signing request with the validation key.
func (s *CertificateService) SignCSR(ctx context.Context, csr string) (string, error) {
	attrs, err := s.broker.GetKeyAttributes(ctx, KeyLabel, "")
	if err != nil {
		return "", err
	}

	signatureAlgorithm, err := SelectSignatureAlgorithm(attrs.Algorithm, attrs.KeySize, attrs.CurveOID)
	if err != nil {
		return "", err
	}

	return s.broker.SignCertificate(ctx, broker.CertificateInput{Label: KeyLabel, SignatureAlgorithm: signatureAlgorithm}, csr)
}

// CreateValidations creates a certificate for the asset key signed by the validation key.
func (s *CertificateService) CreateValidations(ctx context.Context, req CreateValidationsRequest) (*CreateValidationResponse, error) {
	if req.AssetKeyName == "" || req.AssetKeyAlgorithm == "" {
		return nil, errs.New(errs.CodeInputValidationFailed, "assetKeyName and assetKeyAlgorithm are required")
	}

	csr, err := s.GenerateCSR(ctx, req)
	if err != nil {
		return nil, err
	}

	cert, err := s.SignCSR(ctx, csr)
	if err != nil {
		return nil, err
	}

	return &CreateValidationResponse{Certificate: cert}, nil
}

// GenerateProofOfOwnership signs the proof of ownership message with the asset key.
func (s *CertificateService) GenerateProofOfOwnership(ctx context.Context, req ProofOfOwnershipRequest) (*ProofOfOwnershipResponse, error) {
	if req.AssetKeyName == "" || req.AssetKeyAlgorithm == "" || req.WorkspaceDisplayName == "" || req.SDKAPIKey == "" {
		return nil, errs.New(errs.CodeInputValidationFailed, "assetKeyName, assetKeyAlgorithm, workspaceDisplayName and sdkApiKey are required")
	}

	signatureAlgorithm, err := ownershipAlgorithm(req.AssetKeyAlgorithm)
	if err != nil {
		return nil, err
	}

	timestamp := s.now().Unix()
	message := []byte(ProofMessage(req.WorkspaceDisplayName, req.SDKAPIKey, req.AssetKeyName, timestamp))

	log.Info().Str("asset_key", req.AssetKeyName).Int64("timestamp", timestamp).Msg("Signing proof of ownership")

	// The broker signs raw bytes, so Ed25519 signs the SHA-256 of the message.
	payload := message
	if signatureAlgorithm == "EDDSA" {
		digest := sha256.Sum256(message)
		payload = digest[:]
	}

	ticketID, err := s.broker.Sign(ctx, broker.SignInput{
		Label:         req.AssetKeyName,
		Payload:       base64.StdEncoding.EncodeToString(payload),
		PayloadType:   broker.PayloadTypeUnspecified,
		SignatureType: broker.SignatureTypeRaw,
		Algorithm:     signatureAlgorithm,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.awaitResult(ctx, ticketID, "proof of ownership")
	if err != nil {
		return nil, err
	}

	signature, err := base64.StdEncoding.DecodeString(result)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInSubsystem, err, "broker returned a signature that is not base64")
	}

	return &ProofOfOwnershipResponse{
		ProofOfOwnership: Proof{
			Message:   hex.EncodeToString(message),
			Signature: hex.EncodeToString(signature),
		},
		Timestamp: timestamp,
	}, nil
}

// GenerateValidationProofOfOwnership creates the validation certificate and the proof of
// ownership for an asset key in one call.
func (s *CertificateService) GenerateValidationProofOfOwnership(ctx context.Context, req ValidationProofOfOwnershipRequest) (*ValidationProofOfOwnershipResponse, error) {
	if req.AgentUserID == "" {
		return nil, errs.New(errs.CodeInputValidationFailed, "agentUserId is required")
	}

	validation, err := s.CreateValidations(ctx, CreateValidationsRequest{
		AssetKeyName:      req.AssetKeyName,
		AssetKeyAlgorithm: req.AssetKeyAlgorithm,
		IsSKAKey:          req.IsSKAKey,
	})
	if err != nil {
		return nil, err
	}

	proof, err := s.GenerateProofOfOwnership(ctx, ProofOfOwnershipRequest{
		AssetKeyName:         req.AssetKeyName,
		AssetKeyAlgorithm:    req.AssetKeyAlgorithm,
		WorkspaceDisplayName: req.WorkspaceDisplayName,
		SDKAPIKey:            req.SDKAPIKey,
	})
	if err != nil {
		return nil, err
	}

	return &ValidationProofOfOwnershipResponse{
		SigningDeviceKeyID: req.AssetKeyName,
		SignedCertPEM:      validation.Certificate,
		AgentUserID:        req.AgentUserID,
		ProofOfOwnership:   proof.ProofOfOwnership,
	}, nil
}

// awaitResult waits for a ticket and returns its result. Anything other than an executed
// ticket is an error here; these flows have no status record to resume from.
func (s *CertificateService) awaitResult(ctx context.Context, ticketID, op string) (string, error) {
	ticket, err := s.awaiter.AwaitTerminal(ctx, ticketID)
	if err != nil {
		return "", err
	}

	switch models.MapTicketStatus(ticket.Status) {
	case models.StatusSigned:
		return ticket.Result, nil
	case models.StatusPendingSign:
		return "", errs.New(errs.CodeInSubsystem, "%s %s is still pending approval", op, ticketID)
	default:
		return "", errs.New(errs.CodeInSubsystem, "%s %s ended with status %s", op, ticketID, ticket.Status)
	}
}

// ProofMessage builds the proof of ownership message.
func ProofMessage(workspace, sdkAPIKey, assetKeyName string, timestamp int64) string {
	return strings.Join([]string{
		"Fireblocks",
		proofOfOwnershipName,
		workspace,
		sdkAPIKey,
		assetKeyName,
		strconv.FormatInt(timestamp, 10),
	}, "|")
}

// SelectSignatureAlgorithm picks the broker signature algorithm for a key.
func SelectSignatureAlgorithm(algorithm string, keySize int, curveOID string) (string, error) {
	switch strings.ToUpper(algorithm) {
	case "RSA":
		switch {
		case keySize <= 2048:
			return "SHA256_WITH_RSA", nil
		case keySize <= 3072:
			return "SHA384_WITH_RSA", nil
		default:
			return "SHA512_WITH_RSA", nil
		}
	case "EC":
		if curveOID == "" {
			return "", errs.New(errs.CodeInvalidAlgorithm, "missing curveOid for EC key")
		}
		return "SHA256_WITH_ECDSA", nil
	case "ED":
		if curveOID != ed25519OID {
			return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported ED curve OID: %s", curveOID)
		}
		return "EDDSA", nil
	default:
		return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported algorithm: %s", algorithm)
	}
}

func csrAlgorithm(assetKeyAlgorithm string) (string, error) {
	switch strings.ToUpper(assetKeyAlgorithm) {
	case "RSA":
		return "SHA256_WITH_RSA", nil
	case "EC":
		return "SHA256_WITH_ECDSA", nil
	case "ED":
		return "EDDSA", nil
	default:
		return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported key algorithm: %q", assetKeyAlgorithm)
	}
}

func ownershipAlgorithm(assetKeyAlgorithm string) (string, error) {
	switch strings.ToUpper(assetKeyAlgorithm) {
	case "ED":
		return "EDDSA", nil
	case "EC", "ECDSA":
		return "SHA256_WITH_ECDSA", nil
	default:
		return "", errs.New(errs.CodeInvalidAlgorithm, "unsupported key algorithm: %q", assetKeyAlgorithm)
	}
}

// PublicKeyPEM wraps a base64 DER public key in PEM armour.
func PublicKeyPEM(base64Key string) (string, error) {
	der, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return "", errs.Wrap(errs.CodeParsingKey, err, "broker returned a public key that is not base64")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
