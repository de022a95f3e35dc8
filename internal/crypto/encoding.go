package crypto

import "encoding/base64"

// b64RawStd/b64RawStdDecode use the unpadded standard alphabet, matching
// the PHC string format convention for Argon2id hashes.
func b64RawStd(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

func b64RawStdDecode(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}
