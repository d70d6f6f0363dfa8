// Package vapid provides VAPID (Voluntary Application Server Identification)
// helpers for handing the server's public key to browser clients.
package vapid

import (
	"encoding/base64"
	"fmt"
)

// uncompressedP256Len is the length of an uncompressed P-256 public key.
const uncompressedP256Len = 65

// ApplicationServerKey returns the VAPID public key formatted for use with
// the JavaScript PushManager.subscribe() method.
func ApplicationServerKey(publicKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(publicKey)
}

// DecodeApplicationServerKey decodes a base64 URL-encoded application server
// key and checks it is an uncompressed P-256 point.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("decoding application server key: %w", err)
	}
	if len(decoded) != uncompressedP256Len {
		return nil, fmt.Errorf("application server key must be %d bytes, got %d", uncompressedP256Len, len(decoded))
	}
	return decoded, nil
}
