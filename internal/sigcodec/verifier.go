// Package sigcodec verifies inbound envelope signatures and converts between the
// signature encodings used on the wire.
package sigcodec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	k1ecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/rs/zerolog/log"
)

// Algorithm names the signature scheme selected for a verification key.
type Algorithm string

const (
	AlgorithmSHA256WithRSA   Algorithm = "SHA256withRSA"
	AlgorithmSHA256WithECDSA Algorithm = "SHA256withECDSA"
	AlgorithmEd25519         Algorithm = "Ed25519"
)

// AlgorithmFor returns the signature scheme used to verify with key.
func AlgorithmFor(key crypto.PublicKey) (Algorithm, bool) {
	switch key.(type) {
	case *rsa.PublicKey:
		return AlgorithmSHA256WithRSA, true
	case *ecdsa.PublicKey, *secp256k1.PublicKey:
		return AlgorithmSHA256WithECDSA, true
	case ed25519.PublicKey:
		return AlgorithmEd25519, true
	default:
		return "", false
	}
}

// Verifier checks envelope signatures against a single configured key and service name.
type Verifier struct {
	serviceName string
	key         *PublicKey
}

// NewVerifier creates a verifier for the given expected service name and key.
func NewVerifier(serviceName string, key *PublicKey) *Verifier {
	return &Verifier{serviceName: serviceName, key: key}
}

// ServiceName returns the service name signatures must claim.
func (v *Verifier) ServiceName() string {
	return v.serviceName
}

// PublicKeyBase64 returns the base64 DER SubjectPublicKeyInfo of the verification key.
func (v *Verifier) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(v.key.SPKI)
}

// PublicKeyPEM returns the verification key as a PEM PUBLIC KEY block.
func (v *Verifier) PublicKeyPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: v.key.SPKI}))
}

// Verify reports whether sigHex is a valid signature of payload made by the configured
// key and claimed by the configured service. It never returns an error: anything that
// goes wrong is a failed verification.
func (v *Verifier) Verify(payload []byte, sigHex, service string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("signature verification panicked")
			ok = false
		}
	}()

	if v == nil || v.key == nil || service != v.serviceName {
		return false
	}

	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) == 0 {
		return false
	}

	switch key := v.key.Key.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256(payload)
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil

	case *ecdsa.PublicKey:
		der, err := normaliseECDSA(sig)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(payload)
		return ecdsa.VerifyASN1(key, digest[:], der)

	case *secp256k1.PublicKey:
		der, err := normaliseECDSA(sig)
		if err != nil {
			return false
		}
		parsed, err := k1ecdsa.ParseDERSignature(der)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(payload)
		return parsed.Verify(digest[:], key)

	case ed25519.PublicKey:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(key, payload, sig)

	default:
		return false
	}
}

// normaliseECDSA converts a raw r||s signature into DER and passes anything else through.
func normaliseECDSA(sig []byte) ([]byte, error) {
	if len(sig) != RawSignatureSize {
		return sig, nil
	}
	return RawToDER(sig)
}
