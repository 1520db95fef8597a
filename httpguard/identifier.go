package httpguard

import (
	"net/url"
	"strings"
)

// DefaultKey is the conventional options entry for hosts without their own.
const DefaultKey = "http_default"

// Identifier names the resource for host and port.
func Identifier(host, port string) string {
	var b strings.Builder
	b.Grow(len("http_") + len(host) + 1 + len(port))
	b.WriteString("http_")
	b.WriteString(wordOnly(host))
	b.WriteByte('_')
	b.WriteString(wordOnly(port))
	return b.String()
}

// URLIdentifier names the resource for u, defaulting the port from the
// scheme.
func URLIdentifier(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return Identifier(u.Hostname(), port)
}

func wordOnly(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
