package util

import (
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD so that visually identical secrets typed on
// different keyboards (full-width vs half-width input) hash identically.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

// B64Encode uses unpadded standard base64, the encoding used by PHC hash strings.
func B64Encode(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

func B64Decode(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}
