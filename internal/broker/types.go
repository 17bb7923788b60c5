package broker

import "slices"

// Values understood by the broker.
const (
	PayloadTypeHex         = "HEX"
	PayloadTypeUnspecified = "UNSPECIFIED"
	SignatureTypeRaw       = "RAW"

	DefaultSigningKeyLabel = "Fireblocks_SigningKey"
	defaultSigningKeyAlg   = "EC"
	defaultSigningKeyOID   = "1.3.132.0.10"

	certificateValidityDays = 365

	// LicenseFlagAgent must be present on the broker license for signing to be allowed.
	LicenseFlagAgent = "FIREBLOCKS_AGENT"
)

// KeyAttributes describes a broker held key.
type KeyAttributes struct {
	PublicKey string // base64 DER SubjectPublicKeyInfo
	Algorithm string
	KeySize   int
	CurveOID  string
}

// Ticket is the broker's record of an asynchronous operation.
type Ticket struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result"`
}

// License lists the feature flags of the broker subscription.
type License struct {
	ClientFlags []string `json:"clientFlags"`
}

// HasFlag reports whether flag is set on the license.
func (l *License) HasFlag(flag string) bool {
	return l != nil && slices.Contains(l.ClientFlags, flag)
}

// CreateKeyInput describes a key to create on the broker.
type CreateKeyInput struct {
	Label     string
	Password  string
	Algorithm string
	CurveOID  string
	KeySize   int
}

// SignInput describes a payload to sign with a broker held key.
type SignInput struct {
	Label             string
	Password          string
	Payload           string
	PayloadType       string
	SignatureType     string
	Algorithm         string
	Metadata          string
	MetadataSignature string
}

// CertificateInput identifies the key and algorithm used for certificate operations.
type CertificateInput struct {
	Label              string
	Password           string
	SignatureAlgorithm string
}

type keyAttributesJSON struct {
	Decrypt     bool `json:"decrypt"`
	Sign        bool `json:"sign"`
	Wrap        bool `json:"wrap"`
	Unwrap      bool `json:"unwrap"`
	Derive      bool `json:"derive"`
	Extractable bool `json:"extractable"`
	Modifiable  bool `json:"modifiable"`
	Destroyable bool `json:"destroyable"`
	Sensitive   bool `json:"sensitive"`
	Copyable    bool `json:"copyable"`
}

var defaultKeyAttributes = keyAttributesJSON{
	Decrypt:     true,
	Sign:        true,
	Modifiable:  true,
	Destroyable: true,
	Sensitive:   true,
}

type createKeyRequest struct {
	Label      string            `json:"label"`
	Algorithm  string            `json:"algorithm"`
	KeySize    int               `json:"keySize,omitempty"`
	Password   string            `json:"password,omitempty"`
	CurveOID   string            `json:"curveOid,omitempty"`
	Attributes keyAttributesJSON `json:"attributes"`
}

type keyAttributesRequest struct {
	Label    string `json:"label"`
	Password string `json:"password,omitempty"`
}

type keyAttributesResponse struct {
	JSON struct {
		PublicKey    string  `json:"publicKey"`
		Algorithm    string  `json:"algorithm"`
		KeySize      *int    `json:"keySize"`
		CurveOID     *string `json:"curveOid"`
		AlgorithmOID *string `json:"algorithmOid"`
	} `json:"json"`
}

type signRequestBody struct {
	SignRequest signRequest `json:"signRequest"`
}

type signRequest struct {
	Payload            string `json:"payload"`
	PayloadType        string `json:"payloadType"`
	SignKeyName        string `json:"signKeyName"`
	KeyPassword        string `json:"keyPassword,omitempty"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
	SignatureType      string `json:"signatureType"`
	MetaData           string `json:"metaData,omitempty"`
	MetaDataSignature  string `json:"metaDataSignature,omitempty"`
}

type signRequestIDResponse struct {
	SignRequestID string `json:"signRequestId"`
}

type certificateAttributes struct {
	CommonName string `json:"commonName"`
}

type certificateRequest struct {
	SignKeyName                   string                `json:"signKeyName"`
	KeyPassword                   string                `json:"keyPassword,omitempty"`
	SignatureAlgorithm            string                `json:"signatureAlgorithm"`
	Validity                      int                   `json:"validity,omitempty"`
	CertificateAuthority          *bool                 `json:"certificateAuthority,omitempty"`
	CertificateSigningRequest     string                `json:"certificateSigningRequest,omitempty"`
	StandardCertificateAttributes certificateAttributes `json:"standardCertificateAttributes"`
	KeyUsage                      []string              `json:"keyUsage"`
	ExtendedKeyUsage              []string              `json:"extendedKeyUsage"`
}

type csrSignRequestBody struct {
	CSRSignRequest certificateRequest `json:"csrSignRequest"`
}

type synchronousCSRResponse struct {
	CertificateSigningRequest string `json:"certificateSigningRequest"`
}

type errorResponse struct {
	ErrorCode int    `json:"errorCode"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}
