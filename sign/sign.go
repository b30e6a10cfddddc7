// Package sign applies image signatures after promotion. Two independent
// mechanisms exist: a long-lived static key (optional, only when the
// operator holds one) and a short-lived keyless identity whose issuance
// is recorded in a public append-only transparency log (always). Both
// sign recursively: the manifest list digest and every platform manifest
// it references.
package sign

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/relpipe/relpipe/registry"
)

// Scheme distinguishes the two signature mechanisms.
type Scheme string

const (
	SchemeKey     Scheme = "key"
	SchemeKeyless Scheme = "keyless"
)

// Subject names the image a signature covers.
type Subject struct {
	Registry string
	Tag      string
}

// Signature records one signature over a single digest of a subject.
type Signature struct {
	Subject  Subject
	Digest   string
	Scheme   Scheme
	Identity string // key fingerprint or keyless identity
	Payload  []byte
	LogIndex int64 // transparency log entry for keyless; -1 for key
}

// Signer signs every digest of a tagged image: the manifest list itself
// plus each platform manifest it references.
type Signer interface {
	Sign(ctx context.Context, subject Subject, img registry.Image) ([]Signature, error)
}

// digests returns the list digest followed by every member manifest
// digest. Signing must cover all of them, not just the top-level index.
func digests(img registry.Image) []string {
	out := make([]string, 0, len(img.Manifests)+1)
	if img.Digest != "" {
		out = append(out, img.Digest)
	}
	for _, m := range img.Manifests {
		out = append(out, m.Digest)
	}
	return out
}

// KeySigner signs with a long-lived ed25519 private key.
type KeySigner struct {
	priv        ed25519.PrivateKey
	fingerprint string
}

// NewKeySigner derives a deterministic signing key from seed material
// (e.g. the operator-provided key file contents).
func NewKeySigner(seed []byte) (*KeySigner, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("signing key seed required")
	}
	sum := sha256.Sum256(seed)
	priv := ed25519.NewKeyFromSeed(sum[:])
	pub := priv.Public().(ed25519.PublicKey)
	fp := sha256.Sum256(pub)
	return &KeySigner{
		priv:        priv,
		fingerprint: hex.EncodeToString(fp[:8]),
	}, nil
}

// Fingerprint identifies the key in signature records.
func (s *KeySigner) Fingerprint() string { return s.fingerprint }

// SignBytes signs raw bytes (e.g. a package repository index) and returns
// the detached signature. Deterministic for identical input.
func (s *KeySigner) SignBytes(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// Sign implements Signer, covering the list digest and every platform
// manifest.
func (s *KeySigner) Sign(ctx context.Context, subject Subject, img registry.Image) ([]Signature, error) {
	var sigs []Signature
	for _, d := range digests(img) {
		sigs = append(sigs, Signature{
			Subject:  subject,
			Digest:   d,
			Scheme:   SchemeKey,
			Identity: s.fingerprint,
			Payload:  s.SignBytes([]byte(d)),
			LogIndex: -1,
		})
	}
	return sigs, nil
}

// LogEntry is one record in the transparency log.
type LogEntry struct {
	Digest   string
	Identity string
	SignedAt time.Time
}

// TransparencyLog is the public append-only log that records keyless
// signature issuance.
type TransparencyLog interface {
	Append(ctx context.Context, entry LogEntry) (int64, error)
}

// KeylessSigner signs with a short-lived certificate issued against an
// identity; every signature's issuance is appended to the transparency
// log and the resulting log index is recorded on the signature.
type KeylessSigner struct {
	Identity string
	Log      TransparencyLog

	// Now stubs the timestamp in tests; nil means time.Now.
	Now func() time.Time
}

// Sign implements Signer. The ephemeral key lives only for this call.
func (s *KeylessSigner) Sign(ctx context.Context, subject Subject, img registry.Image) ([]Signature, error) {
	if s.Log == nil {
		return nil, fmt.Errorf("keyless signing requires a transparency log")
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("issue ephemeral key: %w", err)
	}
	var sigs []Signature
	for _, d := range digests(img) {
		idx, err := s.Log.Append(ctx, LogEntry{Digest: d, Identity: s.Identity, SignedAt: now()})
		if err != nil {
			return nil, fmt.Errorf("transparency log append for %s: %w", d, err)
		}
		sigs = append(sigs, Signature{
			Subject:  subject,
			Digest:   d,
			Scheme:   SchemeKeyless,
			Identity: s.Identity,
			Payload:  ed25519.Sign(priv, []byte(d)),
			LogIndex: idx,
		})
	}
	return sigs, nil
}

// MemLog is an in-memory TransparencyLog.
type MemLog struct {
	mu      sync.Mutex
	entries []LogEntry
	failAt  int
}

// NewMemLog returns an empty log.
func NewMemLog() *MemLog { return &MemLog{failAt: -1} }

// FailAppend makes every Append fail until cleared with FailAppend(-1)...
// n >= 0 fails appends once len(entries) == n.
func (l *MemLog) FailAppend(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAt = n
}

func (l *MemLog) Append(ctx context.Context, entry LogEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAt >= 0 && len(l.entries) >= l.failAt {
		return 0, fmt.Errorf("transparency log unavailable")
	}
	l.entries = append(l.entries, entry)
	return int64(len(l.entries) - 1), nil
}

// Entries returns a copy of the log.
func (l *MemLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
