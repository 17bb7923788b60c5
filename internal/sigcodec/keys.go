package sigcodec

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidPublicKeyECDSA = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidCurveSecp256k1 = asn1.ObjectIdentifier{1, 3, 132, 0, 10}

	pemArmor = regexp.MustCompile(`-----(BEGIN|END) [A-Z ]*PUBLIC KEY-----`)
)

// PublicKey is a parsed verification key together with its DER SubjectPublicKeyInfo.
// Key holds *rsa.PublicKey, *ecdsa.PublicKey, *secp256k1.PublicKey or ed25519.PublicKey.
type PublicKey struct {
	Key  crypto.PublicKey
	SPKI []byte
}

// LoadPublicKey resolves the verification key, preferring the certificate when both
// paths are configured.
func LoadPublicKey(certPath, publicKeyPath string) (*PublicKey, error) {
	switch {
	case strings.TrimSpace(certPath) != "":
		data, err := readFile(certPath)
		if err != nil {
			return nil, err
		}
		return ParseCertificatePublicKey(data)
	case strings.TrimSpace(publicKeyPath) != "":
		data, err := readFile(publicKeyPath)
		if err != nil {
			return nil, err
		}
		return ParsePublicKey(data)
	default:
		return nil, errs.New(errs.CodeInvalidConfigInput, "no verification key or certificate configured")
	}
}

func readFile(path string) ([]byte, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "file:")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errs.Wrap(errs.CodeInvalidConfigInput, err, "could not load file from location %q as it does not exist", path)
		}
		return nil, errs.Wrap(errs.CodeInvalidConfigInput, err, "could not load file from location %q", path)
	}
	return data, nil
}

// ParsePublicKey parses a base64 DER SubjectPublicKeyInfo, with or without PEM armor.
func ParsePublicKey(data []byte) (*PublicKey, error) {
	cleaned := pemArmor.ReplaceAllString(string(data), "")
	cleaned = strings.Join(strings.Fields(cleaned), "")

	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInputValidationFailed, err, "could not create public key from base64 string")
	}

	key, err := parseSPKI(der)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInputValidationFailed, err, "could not create public key from base64 string")
	}

	return &PublicKey{Key: key, SPKI: der}, nil
}

// ParseCertificatePublicKey extracts the public key from a PEM encoded X.509 certificate.
func ParseCertificatePublicKey(data []byte) (*PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errs.New(errs.CodeReadingPEM, "could not read pem file")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err == nil {
		key, err := checkKeyType(cert.PublicKey)
		if err != nil {
			return nil, err
		}
		return &PublicKey{Key: key, SPKI: cert.RawSubjectPublicKeyInfo}, nil
	}

	// crypto/x509 refuses certificates on curves it does not implement, so
	// dig the SubjectPublicKeyInfo out of the TBS structure directly.
	spki, spkiErr := certificateSPKI(block.Bytes)
	if spkiErr != nil {
		return nil, errs.Wrap(errs.CodeInvalidCryptoFile, err, "could not parse certificate")
	}
	key, spkiErr := parseSPKI(spki)
	if spkiErr != nil {
		return nil, errs.Wrap(errs.CodeInvalidCryptoFile, spkiErr, "could not parse certificate public key")
	}

	return &PublicKey{Key: key, SPKI: spki}, nil
}

func parseSPKI(der []byte) (crypto.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err == nil {
		return checkKeyType(key)
	}

	if k1, k1Err := parseSecp256k1SPKI(der); k1Err == nil {
		return k1, nil
	}

	return nil, err
}

func checkKeyType(key crypto.PublicKey) (crypto.PublicKey, error) {
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return key, nil
	default:
		return nil, errs.New(errs.CodeInvalidAlgorithm, "unsupported key algorithm %T", key)
	}
}

func parseSecp256k1SPKI(der []byte) (*secp256k1.PublicKey, error) {
	var (
		spki, algo       cryptobyte.String
		algOID, curveOID asn1.ObjectIdentifier
		bits             asn1.BitString
	)

	input := cryptobyte.String(der)
	if !input.ReadASN1(&spki, cbasn1.SEQUENCE) ||
		!spki.ReadASN1(&algo, cbasn1.SEQUENCE) ||
		!algo.ReadASN1ObjectIdentifier(&algOID) ||
		!algo.ReadASN1ObjectIdentifier(&curveOID) ||
		!spki.ReadASN1BitString(&bits) {
		return nil, fmt.Errorf("malformed subject public key info")
	}

	if !algOID.Equal(oidPublicKeyECDSA) || !curveOID.Equal(oidCurveSecp256k1) {
		return nil, fmt.Errorf("not a secp256k1 key")
	}

	return secp256k1.ParsePubKey(bits.RightAlign())
}

func certificateSPKI(der []byte) ([]byte, error) {
	var (
		cert, tbs cryptobyte.String
		spki      cryptobyte.String
	)

	input := cryptobyte.String(der)
	if !input.ReadASN1(&cert, cbasn1.SEQUENCE) || !cert.ReadASN1(&tbs, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("malformed certificate")
	}

	if !tbs.SkipOptionalASN1(cbasn1.Tag(0).Constructed().ContextSpecific()) ||
		!tbs.SkipASN1(cbasn1.INTEGER) || // serial
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // signature algorithm
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // issuer
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // validity
		!tbs.SkipASN1(cbasn1.SEQUENCE) || // subject
		!tbs.ReadASN1Element(&spki, cbasn1.SEQUENCE) {
		return nil, fmt.Errorf("malformed tbs certificate")
	}

	return spki, nil
}
