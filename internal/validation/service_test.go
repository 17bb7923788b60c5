package validation

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/keylink-bridge/internal/broker"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"github.com/wolfeidau/keylink-bridge/internal/models"
)

type fakeBroker struct {
	created     []broker.CreateKeyInput
	selfSigned  []broker.CertificateInput
	syncCSRs    []broker.CertificateInput
	asyncCSRs   []broker.CertificateInput
	signedCerts []broker.CertificateInput
	signs       []broker.SignInput

	attrs     *broker.KeyAttributes
	createErr error
}

func (f *fakeBroker) CreateOrUpdateKey(_ context.Context, in broker.CreateKeyInput) error {
	f.created = append(f.created, in)
	return f.createErr
}

func (f *fakeBroker) GetKeyAttributes(context.Context, string, string) (*broker.KeyAttributes, error) {
	if f.attrs == nil {
		return nil, errs.New(errs.CodeKeyNotExistent, "no key")
	}
	return f.attrs, nil
}

func (f *fakeBroker) Sign(_ context.Context, in broker.SignInput) (string, error) {
	f.signs = append(f.signs, in)
	return "sign-ticket", nil
}

func (f *fakeBroker) GenerateCertificateRequest(_ context.Context, in broker.CertificateInput) (string, error) {
	f.asyncCSRs = append(f.asyncCSRs, in)
	return "csr-ticket", nil
}

func (f *fakeBroker) GenerateSynchronousCertificateRequest(_ context.Context, in broker.CertificateInput) (string, error) {
	f.syncCSRs = append(f.syncCSRs, in)
	return "sync-csr", nil
}

func (f *fakeBroker) SignCertificate(_ context.Context, in broker.CertificateInput, csr string) (string, error) {
	f.signedCerts = append(f.signedCerts, in)
	return "cert-for-" + csr, nil
}

func (f *fakeBroker) SelfSign(_ context.Context, in broker.CertificateInput) (string, error) {
	f.selfSigned = append(f.selfSigned, in)
	return "self-signed", nil
}

type fakeAwaiter struct {
	tickets map[string]*broker.Ticket
}

func (a fakeAwaiter) AwaitTerminal(_ context.Context, ticketID string) (*broker.Ticket, error) {
	ticket, ok := a.tickets[ticketID]
	if !ok {
		return nil, errs.New(errs.CodeRequestNotExistent, "no ticket %s", ticketID)
	}
	return ticket, nil
}

func newTestService(b *fakeBroker, tickets map[string]*broker.Ticket) *CertificateService {
	s := NewCertificateService(b, fakeAwaiter{tickets: tickets})
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func ecPublicKeyBase64(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

func intPtr(v int) *int { return &v }

func TestCreateValidationKey(t *testing.T) {
	t.Run("defaults to RSA 2048", func(t *testing.T) {
		b := &fakeBroker{attrs: &broker.KeyAttributes{PublicKey: ecPublicKeyBase64(t), Algorithm: "RSA", KeySize: 2048}}
		s := newTestService(b, nil)

		out, err := s.CreateValidationKey(context.Background(), CreateValidationKeyRequest{})
		require.NoError(t, err)

		block, _ := pem.Decode([]byte(out))
		require.NotNil(t, block)
		require.Equal(t, "PUBLIC KEY", block.Type)

		require.Equal(t, []broker.CreateKeyInput{{Label: KeyLabel, Algorithm: "RSA", KeySize: 2048}}, b.created)
		require.Equal(t, []broker.CertificateInput{{Label: KeyLabel, SignatureAlgorithm: "SHA256_WITH_RSA"}}, b.selfSigned)
	})

	t.Run("lower case EC with curve", func(t *testing.T) {
		b := &fakeBroker{attrs: &broker.KeyAttributes{PublicKey: ecPublicKeyBase64(t), Algorithm: "EC", CurveOID: "1.2.840.10045.3.1.7"}}
		s := newTestService(b, nil)

		_, err := s.CreateValidationKey(context.Background(), CreateValidationKeyRequest{Algorithm: "ec", CurveOID: "1.2.840.10045.3.1.7"})
		require.NoError(t, err)
		require.Equal(t, "EC", b.created[0].Algorithm)
		require.Zero(t, b.created[0].KeySize)
		require.Equal(t, "SHA256_WITH_ECDSA", b.selfSigned[0].SignatureAlgorithm)
	})

	tests := []struct {
		name string
		req  CreateValidationKeyRequest
		code errs.Code
	}{
		{"EC without curve", CreateValidationKeyRequest{Algorithm: "EC"}, errs.CodeInvalidJSON},
		{"ED with key size", CreateValidationKeyRequest{Algorithm: "ED", CurveOID: ed25519OID, KeySize: intPtr(256)}, errs.CodeInvalidJSON},
		{"RSA with curve", CreateValidationKeyRequest{Algorithm: "RSA", CurveOID: "1.3.132.0.10"}, errs.CodeInvalidJSON},
		{"unknown algorithm", CreateValidationKeyRequest{Algorithm: "DSA"}, errs.CodeInvalidAlgorithm},
		{"ED on a non Ed25519 curve", CreateValidationKeyRequest{Algorithm: "ED", CurveOID: "1.3.101.113"}, errs.CodeInvalidAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBroker{}
			s := newTestService(b, nil)

			_, err := s.CreateValidationKey(context.Background(), tt.req)
			require.True(t, errs.IsValidation(err))
			code, ok := errs.CodeOf(err)
			require.True(t, ok)
			require.Equal(t, tt.code, code)
			require.Empty(t, b.created)
		})
	}

	t.Run("EC without curve message", func(t *testing.T) {
		_, err := newTestService(&fakeBroker{}, nil).CreateValidationKey(context.Background(), CreateValidationKeyRequest{Algorithm: "EC"})
		require.ErrorContains(t, err, "curveOid is mandatory for EC or ED algorithms")
	})
}

func TestSelectSignatureAlgorithm(t *testing.T) {
	tests := []struct {
		algorithm string
		keySize   int
		curveOID  string
		want      string
	}{
		{"RSA", 0, "", "SHA256_WITH_RSA"},
		{"RSA", 2048, "", "SHA256_WITH_RSA"},
		{"RSA", 3072, "", "SHA384_WITH_RSA"},
		{"rsa", 4096, "", "SHA512_WITH_RSA"},
		{"RSA", 8192, "", "SHA512_WITH_RSA"},
		{"EC", 0, "1.3.132.0.10", "SHA256_WITH_ECDSA"},
		{"ED", 0, ed25519OID, "EDDSA"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := SelectSignatureAlgorithm(tt.algorithm, tt.keySize, tt.curveOID)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := SelectSignatureAlgorithm("EC", 0, "")
	require.True(t, errs.IsValidation(err))

	_, err = SelectSignatureAlgorithm("ED", 0, "1.3.101.113")
	require.True(t, errs.IsValidation(err))
}

func TestCreateValidations(t *testing.T) {
	t.Run("synchronous CSR", func(t *testing.T) {
		b := &fakeBroker{attrs: &broker.KeyAttributes{Algorithm: "RSA", KeySize: 3072}}
		s := newTestService(b, nil)

		out, err := s.CreateValidations(context.Background(), CreateValidationsRequest{AssetKeyName: "asset", AssetKeyAlgorithm: "ec"})
		require.NoError(t, err)
		require.Equal(t, "cert-for-sync-csr", out.Certificate)
		require.Equal(t, []broker.CertificateInput{{Label: "asset", SignatureAlgorithm: "SHA256_WITH_ECDSA"}}, b.syncCSRs)
		require.Equal(t, []broker.CertificateInput{{Label: KeyLabel, SignatureAlgorithm: "SHA384_WITH_RSA"}}, b.signedCerts)
	})

	t.Run("SKA key waits for the ticket", func(t *testing.T) {
		b := &fakeBroker{attrs: &broker.KeyAttributes{Algorithm: "RSA", KeySize: 2048}}
		s := newTestService(b, map[string]*broker.Ticket{
			"csr-ticket": {ID: "csr-ticket", Status: models.TicketExecuted, Result: "async-csr"},
		})

		out, err := s.CreateValidations(context.Background(), CreateValidationsRequest{AssetKeyName: "asset", AssetKeyAlgorithm: "ED", IsSKAKey: true})
		require.NoError(t, err)
		require.Equal(t, "cert-for-async-csr", out.Certificate)
		require.Equal(t, "EDDSA", b.asyncCSRs[0].SignatureAlgorithm)
		require.Empty(t, b.syncCSRs)
	})

	t.Run("SKA key still pending", func(t *testing.T) {
		b := &fakeBroker{attrs: &broker.KeyAttributes{Algorithm: "RSA", KeySize: 2048}}
		s := newTestService(b, map[string]*broker.Ticket{
			"csr-ticket": {ID: "csr-ticket", Status: models.TicketPending},
		})

		_, err := s.CreateValidations(context.Background(), CreateValidationsRequest{AssetKeyName: "asset", AssetKeyAlgorithm: "EC", IsSKAKey: true})
		require.True(t, errs.IsSubsystem(err))
		require.Empty(t, b.signedCerts)
	})

	t.Run("missing validation key", func(t *testing.T) {
		s := newTestService(&fakeBroker{}, nil)

		_, err := s.CreateValidations(context.Background(), CreateValidationsRequest{AssetKeyName: "asset", AssetKeyAlgorithm: "EC"})
		require.True(t, errs.IsNotFound(err))
	})

	t.Run("unsupported asset algorithm", func(t *testing.T) {
		_, err := newTestService(&fakeBroker{}, nil).CreateValidations(context.Background(), CreateValidationsRequest{AssetKeyName: "asset", AssetKeyAlgorithm: "DSA"})
		require.True(t, errs.IsValidation(err))
	})
}

func TestGenerateProofOfOwnership(t *testing.T) {
	signature := []byte{0x01, 0x02, 0x03}
	tickets := map[string]*broker.Ticket{
		"sign-ticket": {ID: "sign-ticket", Status: models.TicketExecuted, Result: base64.StdEncoding.EncodeToString(signature)},
	}
	req := ProofOfOwnershipRequest{
		AssetKeyName:         "asset",
		AssetKeyAlgorithm:    "EC",
		WorkspaceDisplayName: "workspace",
		SDKAPIKey:            "sdk-key",
	}
	message := "Fireblocks|Proof of Ownership Message|workspace|sdk-key|asset|1700000000"

	t.Run("ECDSA signs the message", func(t *testing.T) {
		b := &fakeBroker{}
		out, err := newTestService(b, tickets).GenerateProofOfOwnership(context.Background(), req)
		require.NoError(t, err)

		require.Equal(t, int64(1700000000), out.Timestamp)
		require.Equal(t, hex.EncodeToString([]byte(message)), out.ProofOfOwnership.Message)
		require.Equal(t, "010203", out.ProofOfOwnership.Signature)

		require.Len(t, b.signs, 1)
		require.Equal(t, base64.StdEncoding.EncodeToString([]byte(message)), b.signs[0].Payload)
		require.Equal(t, broker.PayloadTypeUnspecified, b.signs[0].PayloadType)
		require.Equal(t, broker.SignatureTypeRaw, b.signs[0].SignatureType)
		require.Equal(t, "SHA256_WITH_ECDSA", b.signs[0].Algorithm)
		require.Equal(t, "asset", b.signs[0].Label)
	})

	t.Run("EdDSA signs the message digest", func(t *testing.T) {
		b := &fakeBroker{}
		edReq := req
		edReq.AssetKeyAlgorithm = "ed"

		out, err := newTestService(b, tickets).GenerateProofOfOwnership(context.Background(), edReq)
		require.NoError(t, err)
		require.Equal(t, hex.EncodeToString([]byte(message)), out.ProofOfOwnership.Message)

		digest := sha256.Sum256([]byte(message))
		require.Equal(t, base64.StdEncoding.EncodeToString(digest[:]), b.signs[0].Payload)
		require.Equal(t, "EDDSA", b.signs[0].Algorithm)
	})

	t.Run("rejected ticket", func(t *testing.T) {
		s := newTestService(&fakeBroker{}, map[string]*broker.Ticket{
			"sign-ticket": {ID: "sign-ticket", Status: models.TicketRejected},
		})
		_, err := s.GenerateProofOfOwnership(context.Background(), req)
		require.True(t, errs.IsSubsystem(err))
	})

	t.Run("RSA is not supported", func(t *testing.T) {
		rsaReq := req
		rsaReq.AssetKeyAlgorithm = "RSA"
		_, err := newTestService(&fakeBroker{}, tickets).GenerateProofOfOwnership(context.Background(), rsaReq)
		require.True(t, errs.IsValidation(err))
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := newTestService(&fakeBroker{}, tickets).GenerateProofOfOwnership(context.Background(), ProofOfOwnershipRequest{AssetKeyName: "asset"})
		require.True(t, errs.IsValidation(err))
	})
}

func TestGenerateValidationProofOfOwnership(t *testing.T) {
	b := &fakeBroker{attrs: &broker.KeyAttributes{Algorithm: "RSA", KeySize: 2048}}
	s := newTestService(b, map[string]*broker.Ticket{
		"sign-ticket": {ID: "sign-ticket", Status: models.TicketExecuted, Result: base64.StdEncoding.EncodeToString([]byte{0xff})},
	})

	out, err := s.GenerateValidationProofOfOwnership(context.Background(), ValidationProofOfOwnershipRequest{
		AssetKeyName:         "asset",
		AssetKeyAlgorithm:    "EC",
		WorkspaceDisplayName: "workspace",
		SDKAPIKey:            "sdk-key",
		AgentUserID:          "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, "asset", out.SigningDeviceKeyID)
	require.Equal(t, "cert-for-sync-csr", out.SignedCertPEM)
	require.Equal(t, "agent-1", out.AgentUserID)
	require.Equal(t, "ff", out.ProofOfOwnership.Signature)
}

func TestPublicKeyPEM(t *testing.T) {
	key := ecPublicKeyBase64(t)

	out, err := PublicKeyPEM(key)
	require.NoError(t, err)

	block, rest := pem.Decode([]byte(out))
	require.NotNil(t, block)
	require.Empty(t, rest)
	require.Equal(t, key, base64.StdEncoding.EncodeToString(block.Bytes))

	_, err = PublicKeyPEM("!!")
	require.True(t, errs.IsCrypto(err))
}
