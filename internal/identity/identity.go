// Package identity derives a best-effort visitor identity from request
// headers: the client IP as reported by the proxy chain and a weak browser
// fingerprint.
//
// The fingerprint is intentionally cheap. Visitors sharing an IP, browser and
// locale collide, and anyone can change it by editing headers. It only adds
// friction to repeat submissions; it is not an authentication signal.
package identity

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf16"
)

// UnknownIP is reported when neither X-Forwarded-For nor X-Real-IP is set.
const UnknownIP = "unknown"

// fingerprintHeaders are mixed into the fingerprint, in this order, after the IP.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-CH-UA",
	"Sec-CH-UA-Platform",
	"Sec-CH-UA-Mobile",
}

// Identity is the request-derived visitor identity.
type Identity struct {
	IP          string
	Fingerprint string
}

// FromRequest is FromHeaders over r.Header.
func FromRequest(r *http.Request) Identity {
	if r == nil {
		return FromHeaders(nil)
	}
	return FromHeaders(r.Header)
}

// FromHeaders extracts the client IP and fingerprint. It never fails; with no
// headers at all it returns UnknownIP and the hash of the empty tuple.
func FromHeaders(h http.Header) Identity {
	ip := ClientIP(h)

	var b strings.Builder
	b.WriteString(ip)
	for _, name := range fingerprintHeaders {
		b.WriteByte('|')
		b.WriteString(h.Get(name))
	}
	return Identity{IP: ip, Fingerprint: Hash(b.String())}
}

// ClientIP returns the first X-Forwarded-For entry, else X-Real-IP, else
// UnknownIP. The value is not validated as an address; callers treat it as
// an opaque key.
func ClientIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(h.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return UnknownIP
}

// Hash is a 32-bit polynomial rolling hash (h*31 + c per UTF-16 code unit,
// wrapping as a signed int32), returned as the absolute value in base 36.
// Stored fingerprints depend on this exact output.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
