// Package codec implements the opaque wire encoding used by the relay: every
// byte field a client sends (queue identifiers, signatures, ciphertext, IVs)
// travels as standard base64 inside a JSON envelope. The server never
// inspects what these fields decode to; it only needs to round-trip them.
package codec

import "encoding/base64"

// Encode renders raw bytes as standard padded base64, matching the format
// clients are expected to emit for every opaque field in the wire protocol.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode parses standard padded base64 back into raw bytes. A non-nil error
// is a DecodeError upstream: the Session Handler replies Status(false) and
// closes the connection.
func Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
