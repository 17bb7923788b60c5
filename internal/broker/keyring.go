package broker

import (
	"strings"

	"go.uber.org/atomic"
)

// TokenClass selects one of the three API key pools the broker distinguishes.
type TokenClass int

const (
	TokenManagement TokenClass = iota
	TokenOperation
	TokenService

	tokenClassCount
)

func (c TokenClass) String() string {
	switch c {
	case TokenManagement:
		return "management"
	case TokenOperation:
		return "operation"
	case TokenService:
		return "service"
	default:
		return "unknown"
	}
}

// KeyRingConfig lists the configured API keys per token class, in failover order.
type KeyRingConfig struct {
	Enabled    bool
	Management []string
	Operation  []string
	Service    []string
}

// KeyRing hands out the current API key of each token class and advances past keys the
// broker rejects. Cursors only move forward; once a pool is exhausted no key is sent.
//
// Concurrent callers that both observe a rejected key may rotate twice. That skips one
// key, which is accepted in exchange for lock free reads.
type KeyRing struct {
	enabled bool
	pools   [tokenClassCount][]string
	cursors [tokenClassCount]atomic.Int64
}

// NewKeyRing creates a key ring from configuration.
func NewKeyRing(cfg KeyRingConfig) *KeyRing {
	kr := &KeyRing{enabled: cfg.Enabled}
	kr.pools[TokenManagement] = cfg.Management
	kr.pools[TokenOperation] = cfg.Operation
	kr.pools[TokenService] = cfg.Service
	return kr
}

// Size returns the number of configured keys for class.
func (kr *KeyRing) Size(class TokenClass) int {
	if !kr.valid(class) {
		return 0
	}
	return len(kr.pools[class])
}

// Exhausted reports whether the pool for class has no usable key left.
func (kr *KeyRing) Exhausted(class TokenClass) bool {
	if !kr.valid(class) || !kr.enabled || !hasNonBlank(kr.pools[class]) {
		return true
	}
	return kr.cursors[class].Load() >= int64(len(kr.pools[class]))
}

// Current returns the key to send for class, or an empty string when none should be sent.
func (kr *KeyRing) Current(class TokenClass) string {
	if kr.Exhausted(class) {
		return ""
	}
	cursor := kr.cursors[class].Load()
	pool := kr.pools[class]
	if cursor >= int64(len(pool)) {
		return ""
	}
	return strings.TrimSpace(pool[cursor])
}

// Rotate advances the cursor for class by one. It returns false, without moving the
// cursor, once the pool is exhausted.
func (kr *KeyRing) Rotate(class TokenClass) bool {
	if !kr.valid(class) {
		return false
	}
	size := int64(len(kr.pools[class]))
	for {
		cursor := kr.cursors[class].Load()
		if cursor >= size {
			return false
		}
		if kr.cursors[class].CompareAndSwap(cursor, cursor+1) {
			return true
		}
	}
}

func (kr *KeyRing) valid(class TokenClass) bool {
	return kr != nil && class >= 0 && class < tokenClassCount
}

func hasNonBlank(keys []string) bool {
	for _, k := range keys {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}
