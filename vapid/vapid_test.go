package vapid

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func samplePublicKey() []byte {
	key := make([]byte, uncompressedP256Len)
	key[0] = 0x04
	for i := 1; i < len(key); i++ {
		key[i] = byte(i)
	}
	return key
}

func TestApplicationServerKeyRoundTrip(t *testing.T) {
	original := samplePublicKey()

	encoded := ApplicationServerKey(original)
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("ApplicationServerKey() produced invalid base64: %v", err)
	}

	decoded, err := DecodeApplicationServerKey(encoded)
	if err != nil {
		t.Fatalf("DecodeApplicationServerKey() error = %v", err)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("round trip mismatch: got %x, want %x", decoded, original)
	}
}

func TestDecodeApplicationServerKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not base64", "not-valid-base64!!!"},
		{"empty", ""},
		{"too short", base64.RawURLEncoding.EncodeToString(make([]byte, 32))},
		{"too long", base64.RawURLEncoding.EncodeToString(make([]byte, 66))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeApplicationServerKey(tt.key); err == nil {
				t.Error("DecodeApplicationServerKey() expected error")
			}
		})
	}
}
