package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
)

// KMSSigner signs VAPID tokens with a key held in Google Cloud KMS, for
// deployments where the private half of the pair must never touch disk.
type KMSSigner struct {
	client    *kms.KeyManagementClient
	keyName   string
	publicKey []byte
}

// NewKMSSigner connects to Cloud KMS and fetches the public half of the
// key version named by keyName, e.g.
// projects/p/locations/l/keyRings/r/cryptoKeys/k/cryptoKeyVersions/1.
// The key must be an ECDSA P-256 signing key.
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}

	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetching public key %s: %w", keyName, err)
	}

	publicKey, err := parsePEMPublicKey(resp.Pem)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("key %s: %w", keyName, err)
	}

	return &KMSSigner{
		client:    client,
		keyName:   keyName,
		publicKey: publicKey,
	}, nil
}

// parsePEMPublicKey turns a PEM-encoded PKIX key into the uncompressed
// P-256 point the push protocol expects.
func parsePEMPublicKey(pemData string) ([]byte, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	ec, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not ECDSA")
	}
	if ec.Curve != elliptic.P256() {
		return nil, fmt.Errorf("public key is not on the P-256 curve")
	}
	return elliptic.Marshal(ec.Curve, ec.X, ec.Y), nil
}

// Sign asks KMS to sign the already-hashed data and returns the signature
// in the IEEE P1363 form VAPID JWTs carry.
func (s *KMSSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: data},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}
	return derToP1363(resp.Signature)
}

// PublicKey returns the uncompressed P-256 public key.
func (s *KMSSigner) PublicKey() []byte {
	return s.publicKey
}

func (s *KMSSigner) Close() error {
	return s.client.Close()
}

// derToP1363 converts a DER-encoded ECDSA signature to the fixed-width
// r || s layout, 32 bytes each for P-256.
func derToP1363(der []byte) ([]byte, error) {
	var sig struct {
		R, S *big.Int
	}
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("parsing DER signature: %w", err)
	}

	out := make([]byte, 64)
	r, s := sig.R.Bytes(), sig.S.Bytes()
	copy(out[32-len(r):32], r)
	copy(out[64-len(s):64], s)
	return out, nil
}
