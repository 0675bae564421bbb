// Package session turns a distilled QKD bit key into usable session-key
// material for encrypted classical communication: a fixed-width key expanded
// with HKDF and an AES-256-GCM AEAD around it.
package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/qnative/qniot/bitarray"
)

// KeySize is the session key width in bytes (AES-256).
const KeySize = 32

// hkdfInfo binds derived keys to this protocol's key schedule.
const hkdfInfo = "qniot/session-key/v1"

// A Key is a fixed-width session key. The zero value is empty and unusable.
type Key struct {
	material [KeySize]byte
	set      bool
}

// NewKey expands the final QKD bit sequence into a 256-bit session key via
// HKDF-SHA256. The bit key must be non-empty.
func NewKey(bits bitarray.Dense) (*Key, error) {
	if bits.Size() == 0 {
		return nil, errors.New("cannot derive session key from empty bit sequence")
	}
	k := &Key{set: true}
	r := hkdf.New(sha256.New, bits.Data(), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, k.material[:]); err != nil {
		return nil, fmt.Errorf("expanding session key: %w", err)
	}
	return k, nil
}

// Empty reports whether k holds no key material.
func (k *Key) Empty() bool {
	return k == nil || !k.set
}

// Bytes returns a copy of the key material, or nil for an empty key.
func (k *Key) Bytes() []byte {
	if k.Empty() {
		return nil
	}
	out := make([]byte, KeySize)
	copy(out, k.material[:])
	return out
}

// Zero erases the key material in place. A zeroed key reads as empty.
func (k *Key) Zero() {
	if k == nil {
		return
	}
	for i := range k.material {
		k.material[i] = 0
	}
	k.set = false
}

// A Cipher seals and opens messages under a session key with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds an AEAD around the session key.
func NewCipher(k *Key) (*Cipher, error) {
	if k.Empty() {
		return nil, errors.New("cannot build cipher from empty session key")
	}
	block, err := aes.NewCipher(k.material[:])
	if err != nil {
		return nil, fmt.Errorf("initializing AES: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal encrypts plaintext, prepending the random nonce to the returned box.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("drawing nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a box produced by Seal.
func (c *Cipher) Open(box []byte) ([]byte, error) {
	if len(box) < c.aead.NonceSize() {
		return nil, errors.New("ciphertext shorter than nonce")
	}
	nonce, ct := box[:c.aead.NonceSize()], box[c.aead.NonceSize():]
	pt, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("opening ciphertext: %w", err)
	}
	return pt, nil
}
