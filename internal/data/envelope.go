package data

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"Approve/internal/biz"
	"Approve/internal/conf"

	"golang.org/x/crypto/chacha20poly1305"
)

// Codec seals outgoing bodies and opens incoming ones.
type Codec interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// Envelope is XChaCha20-Poly1305 with the nonce in front of the ciphertext.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope builds the codec from the configured key.
func NewEnvelope(c *conf.Transport) (*Envelope, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}
	return NewEnvelopeWithKey(key)
}

// NewEnvelopeWithKey builds the codec from a raw 32 byte key.
func NewEnvelopeWithKey(key []byte) (*Envelope, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	return &Envelope{aead: aead}, nil
}

// Seal encrypts plaintext.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	if e == nil || e.aead == nil {
		return nil, biz.ErrEncryption
	}
	size := e.aead.NonceSize()
	out := make([]byte, size, size+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, biz.ErrEncryption.WithCause(err)
	}
	return e.aead.Seal(out, out[:size], plaintext, nil), nil
}

// Open decrypts an envelope. Any tampering fails authentication.
func (e *Envelope) Open(ciphertext []byte) ([]byte, error) {
	if e == nil || e.aead == nil {
		return nil, biz.ErrDecryption
	}
	size := e.aead.NonceSize()
	if len(ciphertext) < size+e.aead.Overhead() {
		return nil, biz.ErrDecryption.WithCause(fmt.Errorf("envelope too short: %d bytes", len(ciphertext)))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:size], ciphertext[size:], nil)
	if err != nil {
		return nil, biz.ErrDecryption.WithCause(err)
	}
	return plaintext, nil
}
