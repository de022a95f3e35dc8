// Package session implements the session engine (C5): opaque session
// tokens bound to a device fingerprint, lazy last-activity tracking, and
// cascade revocation into the refresh-token family table.
package session

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"strings"
)

// Fingerprint computes the stable device fingerprint stored alongside a
// session: SHA-256 over the normalized user agent and the /24 (IPv4) or
// /48 (IPv6) network class of the client IP, so that ISP-level address
// churn within the same network doesn't invalidate a session.
func Fingerprint(userAgent, clientIP string) string {
	sum := sha256.Sum256([]byte(normalizeUserAgent(userAgent) + "|" + ipClass(clientIP)))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func normalizeUserAgent(ua string) string {
	return strings.ToLower(strings.TrimSpace(ua))
}

func ipClass(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String()
	}
	mask := net.CIDRMask(48, 128)
	return ip.Mask(mask).String()
}
