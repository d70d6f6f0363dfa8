// Package keys manages the VAPID signing key pair for the notification
// subsystem.
//
// The key pair is persisted as a two-field JSON record at a well-known path
// and is immutable for the lifetime of every subscription registered against
// it: browsers encrypt their push handshake against the public key, so
// regenerating the pair would invalidate every existing web subscription.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// KeyPair holds the VAPID key pair in base64 URL-encoded form, matching the
// on-disk JSON layout.
type KeyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// FileSigner signs VAPID tokens with a P-256 private key held in memory.
type FileSigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  []byte // uncompressed format
}

// LoadOrCreate returns the key pair stored at path, generating and persisting
// a fresh one on first run.
//
// Any failure to read, parse, or write the file is returned as an error.
// Falling back to an unpersisted pair would hand browsers a public key that
// no longer matches the private key used to sign messages, so callers must
// treat an error here as fatal for the notification subsystem.
func LoadOrCreate(path string) (*FileSigner, *KeyPair, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var pair KeyPair
		if err := json.Unmarshal(data, &pair); err != nil {
			return nil, nil, fmt.Errorf("parsing key file %s: %w", path, err)
		}
		signer, err := NewSignerFromPair(&pair)
		if err != nil {
			return nil, nil, fmt.Errorf("loading key file %s: %w", path, err)
		}
		return signer, &pair, nil

	case os.IsNotExist(err):
		privB64, pubB64, err := GenerateKeyPair()
		if err != nil {
			return nil, nil, err
		}
		pair := &KeyPair{PublicKey: pubB64, PrivateKey: privB64}
		out, err := json.MarshalIndent(pair, "", "  ")
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling key pair: %w", err)
		}
		if err := os.WriteFile(path, out, 0600); err != nil {
			return nil, nil, fmt.Errorf("writing key file %s: %w", path, err)
		}
		signer, err := NewSignerFromBase64(privB64)
		if err != nil {
			return nil, nil, err
		}
		return signer, pair, nil

	default:
		return nil, nil, fmt.Errorf("reading key file %s: %w", path, err)
	}
}

// NewSignerFromPair creates a FileSigner from a stored key pair and verifies
// the public half matches the private key.
func NewSignerFromPair(pair *KeyPair) (*FileSigner, error) {
	signer, err := NewSignerFromBase64(pair.PrivateKey)
	if err != nil {
		return nil, err
	}
	if signer.PublicKeyBase64() != pair.PublicKey {
		return nil, errors.New("stored public key does not match private key")
	}
	return signer, nil
}

// NewSignerFromBase64 creates a FileSigner from a base64 URL-encoded 32-byte
// private key.
func NewSignerFromBase64(privateKeyB64 string) (*FileSigner, error) {
	privKeyBytes, err := base64.RawURLEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decoding private key: %w", err)
	}

	if len(privKeyBytes) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privKeyBytes))
	}

	privKey := new(ecdsa.PrivateKey)
	privKey.Curve = elliptic.P256()
	privKey.D = new(big.Int).SetBytes(privKeyBytes)
	privKey.X, privKey.Y = privKey.Curve.ScalarBaseMult(privKeyBytes)

	// Public key in uncompressed format
	pubKey := elliptic.Marshal(privKey.Curve, privKey.X, privKey.Y)

	return &FileSigner{
		privateKey: privKey,
		publicKey:  pubKey,
	}, nil
}

// GenerateKeyPair generates a new P-256 key pair and returns both keys in
// base64 URL-encoded form.
func GenerateKeyPair() (privateKeyB64, publicKeyB64 string, err error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generating key: %w", err)
	}

	// Private key as 32-byte big-endian integer, padded if necessary
	privKeyBytes := privKey.D.Bytes()
	paddedPrivKey := make([]byte, 32)
	copy(paddedPrivKey[32-len(privKeyBytes):], privKeyBytes)

	pubKeyBytes := elliptic.Marshal(privKey.Curve, privKey.X, privKey.Y)

	return base64.RawURLEncoding.EncodeToString(paddedPrivKey),
		base64.RawURLEncoding.EncodeToString(pubKeyBytes),
		nil
}

// Sign signs the given data using ECDSA and returns the signature in IEEE
// P1363 format.
func (s *FileSigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(rand.Reader, s.privateKey, data)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	// Convert to IEEE P1363 format (r || s, each 32 bytes)
	sig := make([]byte, 64)
	rBytes := r.Bytes()
	sBytes := ss.Bytes()
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)

	return sig, nil
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *FileSigner) PublicKey() []byte {
	return s.publicKey
}

// PublicKeyBase64 returns the public key as a base64 URL-encoded string.
func (s *FileSigner) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(s.publicKey)
}
