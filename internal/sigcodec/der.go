package sigcodec

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// RawSignatureSize is the length of a raw r||s ECDSA signature over a 256 bit curve.
const RawSignatureSize = 64

// RawToDER converts a raw r||s ECDSA signature into a DER SEQUENCE{INTEGER r, INTEGER s}.
// Both halves are read as unsigned big-endian integers of equal width.
func RawToDER(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("raw signature must have an even non-zero length, got %d", len(raw))
	}

	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])

	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})

	return b.Bytes()
}
