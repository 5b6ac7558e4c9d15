// Package password implements one-way password hashing and verification for
// credential checks. bcrypt embeds a per-call random salt in the hash
// material and compares digests in constant time, so a mismatch reveals
// nothing about where the comparison diverged.
package password

import (
	"fmt"

	"github.com/avolkov/authcore/internal/common"
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords at a fixed bcrypt cost.
type Hasher struct {
	cost int

	// dummyHash is a digest of a random secret nobody knows. Verifying a
	// candidate against it costs the same as a real verification, which keeps
	// the unknown-user login path timing-indistinguishable from the
	// wrong-password path.
	dummyHash string
}

// NewHasher returns a Hasher using bcrypt.DefaultCost.
func NewHasher() (*Hasher, error) {
	return NewHasherWithCost(bcrypt.DefaultCost)
}

// NewHasherWithCost returns a Hasher with an explicit bcrypt cost,
// clamped to the range bcrypt accepts.
func NewHasherWithCost(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	secret := common.GenerateRandByteArray(32)
	defer common.WipeByteArray(secret)

	dummy, err := bcrypt.GenerateFromPassword(secret, cost)
	if err != nil {
		return nil, fmt.Errorf("error generating dummy hash: %w", err)
	}

	return &Hasher{cost: cost, dummyHash: string(dummy)}, nil
}

// Hash produces a salted one-way digest of password. The salt is generated
// per call and embedded in the returned material.
func (h *Hasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return string(digest), nil
}

// Verify reports whether password matches hashMaterial. Malformed hash
// material is treated as a non-match, never as a verification bypass.
func (h *Hasher) Verify(password, hashMaterial string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashMaterial), []byte(password)) == nil
}

// DummyVerify burns one verification against the hasher's dummy digest.
// Callers use it to equalize timing when no credential record exists.
func (h *Hasher) DummyVerify(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(password))
}
