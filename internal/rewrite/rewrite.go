// Package rewrite mints and verifies the signed proxy URL tokens described
// in spec.md §4.1 (C1). Tokens survive process restart because the MAC key
// (rewrite_secret) is supplied at startup rather than generated.
package rewrite

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// SecretLen is the required length, in bytes, of rewrite_secret (spec.md
// §4.1: "a 32-hex-character (16-byte) value").
const SecretLen = 16

// Kind distinguishes resource tokens (no expiry) from stream tokens
// (optional expiry).
type Kind uint8

const (
	KindResource Kind = 1
	KindStream   Kind = 2
)

// Cluster mirrors the Xtream cluster a token's virtual ID belongs to.
type Cluster uint8

const (
	ClusterLive   Cluster = 1
	ClusterVOD    Cluster = 2
	ClusterSeries Cluster = 3
)

// Payload is the signed content of a token.
type Payload struct {
	Kind           Kind
	Target         string
	Cluster        Cluster
	VirtualID      uint64
	UserFingerprint uint64
	// ExpiresAt is Unix seconds; 0 means no expiry (resource tokens always
	// carry 0; stream tokens may carry a nonzero value per
	// token_ttl_mins).
	ExpiresAt int64
}

// Signer mints and verifies tokens under one rewrite_secret. Fail loudly if
// the secret is absent at startup per spec.md §4.1 — callers should treat a
// construction error as a ConfigInvalid startup failure, never silently
// generate a secret (restart would then invalidate every rewrite link).
type Signer struct {
	secret []byte
}

// NewSigner validates and wraps a secret. secret must decode from hex to
// exactly SecretLen bytes, matching the "32-hex-character (16-byte) value"
// contract; callers typically pass the raw hex string from config as-is,
// already hex-decoded by the config loader.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) != SecretLen {
		return nil, fmt.Errorf("rewrite: rewrite_secret must be %d bytes, got %d", SecretLen, len(secret))
	}
	return &Signer{secret: secret}, nil
}

// Mint encodes payload and appends a keyed BLAKE3 MAC, returning
// base64(payload || mac).
func (s *Signer) Mint(p Payload) string {
	body := encodePayload(p)
	mac := s.mac(body)
	out := append(body, mac...)
	return base64.RawURLEncoding.EncodeToString(out)
}

// Verify decodes and checks the MAC in constant time, returning the payload
// on success. Returns an error for malformed tokens, a bad MAC, or (for
// stream tokens) an expired token.
func (s *Signer) Verify(token string) (Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Payload{}, fmt.Errorf("rewrite: malformed token: %w", err)
	}
	const macLen = 32
	if len(raw) < macLen+1 {
		return Payload{}, fmt.Errorf("rewrite: token too short")
	}
	body := raw[:len(raw)-macLen]
	gotMAC := raw[len(raw)-macLen:]
	wantMAC := s.mac(body)
	if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return Payload{}, fmt.Errorf("rewrite: MAC mismatch")
	}
	p, err := decodePayload(body)
	if err != nil {
		return Payload{}, err
	}
	if p.ExpiresAt != 0 && time.Now().Unix() > p.ExpiresAt {
		return Payload{}, fmt.Errorf("rewrite: token expired")
	}
	return p, nil
}

// mac derives a 32-byte keyed-BLAKE3 key from the secret (NewKeyed requires
// a 32-byte key; rewrite_secret is 16 bytes) and returns the MAC of body.
func (s *Signer) mac(body []byte) []byte {
	key := blake3.Sum256(s.secret)
	keyed, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(err) // key is always 32 bytes here
	}
	_, _ = keyed.Write(body)
	return keyed.Sum(nil)
}

func encodePayload(p Payload) []byte {
	buf := make([]byte, 0, 1+1+1+8+8+8+len(p.Target))
	buf = append(buf, byte(p.Kind), byte(p.Cluster))
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], p.VirtualID)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], p.UserFingerprint)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint64(tmp[:], uint64(p.ExpiresAt))
	buf = append(buf, tmp[:]...)
	var tlen [2]byte
	binary.BigEndian.PutUint16(tlen[:], uint16(len(p.Target)))
	buf = append(buf, tlen[:]...)
	buf = append(buf, p.Target...)
	return buf
}

func decodePayload(b []byte) (Payload, error) {
	const fixedLen = 1 + 1 + 8 + 8 + 8 + 2
	if len(b) < fixedLen {
		return Payload{}, fmt.Errorf("rewrite: truncated payload")
	}
	p := Payload{
		Kind:    Kind(b[0]),
		Cluster: Cluster(b[1]),
	}
	off := 2
	p.VirtualID = binary.BigEndian.Uint64(b[off:])
	off += 8
	p.UserFingerprint = binary.BigEndian.Uint64(b[off:])
	off += 8
	p.ExpiresAt = int64(binary.BigEndian.Uint64(b[off:]))
	off += 8
	tlen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if len(b)-off != tlen {
		return Payload{}, fmt.Errorf("rewrite: target length mismatch")
	}
	p.Target = string(b[off:])
	return p, nil
}
