package auth

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// maxPreviousKeys bounds how many retired keys stay valid for verification.
// Retired keys only need to outlive the longest token minted under them.
const maxPreviousKeys = 4

type signingKey struct {
	id     string
	secret []byte
}

type keySnapshot struct {
	current  signingKey
	previous []signingKey // newest first
}

// Keyring holds the process-wide signing key set. Readers always observe an
// immutable snapshot taken at call time; Rotate swaps in a whole new snapshot
// atomically, so in-flight verifications never see a half-updated key set.
type Keyring struct {
	snap atomic.Pointer[keySnapshot]
}

// NewKeyring builds a key ring with a single current signing key.
// An empty keyID gets a generated one.
func NewKeyring(keyID string, secret []byte) *Keyring {
	if keyID == "" {
		keyID = uuid.NewString()
	}
	k := &Keyring{}
	k.snap.Store(&keySnapshot{current: signingKey{id: keyID, secret: secret}})
	return k
}

// Rotate installs a new current signing key. The old current key joins the
// previous set so tokens minted before the rotation stay verifiable until
// their natural expiry; the oldest retired keys fall off the bounded set.
// New tokens are always minted with the current key.
func (k *Keyring) Rotate(keyID string, secret []byte) {
	if keyID == "" {
		keyID = uuid.NewString()
	}
	for {
		old := k.snap.Load()
		prev := make([]signingKey, 0, len(old.previous)+1)
		prev = append(prev, old.current)
		prev = append(prev, old.previous...)
		if len(prev) > maxPreviousKeys {
			prev = prev[:maxPreviousKeys]
		}
		next := &keySnapshot{
			current:  signingKey{id: keyID, secret: secret},
			previous: prev,
		}
		if k.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// AddVerificationKey registers an additional verification-only key, e.g. a
// key retired before the process started. It never becomes the signing key.
func (k *Keyring) AddVerificationKey(keyID string, secret []byte) {
	if keyID == "" {
		return
	}
	for {
		old := k.snap.Load()
		prev := make([]signingKey, 0, len(old.previous)+1)
		prev = append(prev, old.previous...)
		prev = append(prev, signingKey{id: keyID, secret: secret})
		if len(prev) > maxPreviousKeys {
			prev = prev[len(prev)-maxPreviousKeys:]
		}
		next := &keySnapshot{current: old.current, previous: prev}
		if k.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// CurrentKeyID returns the id of the key new tokens are minted with.
func (k *Keyring) CurrentKeyID() string {
	return k.snap.Load().current.id
}

func (k *Keyring) signer() signingKey {
	return k.snap.Load().current
}

// verificationKey resolves keyID against the snapshot taken at call time.
func (k *Keyring) verificationKey(keyID string) ([]byte, bool) {
	s := k.snap.Load()
	if s.current.id == keyID {
		return s.current.secret, true
	}
	for _, p := range s.previous {
		if p.id == keyID {
			return p.secret, true
		}
	}
	return nil, false
}
