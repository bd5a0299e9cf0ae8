package schema

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeIdentifier returns the canonical form of a source URL.
// Scheme and host are lowercased, the fragment is dropped and a trailing
// slash is trimmed. Bare hosts get an https scheme.
func NormalizeIdentifier(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if strings.ContainsAny(s, " \t\r\n") {
		return "", fmt.Errorf("identifier %q contains whitespace", raw)
	}
	if !strings.Contains(s, "://") {
		if scheme, ok := opaqueScheme(s); ok {
			return "", fmt.Errorf("identifier %q: unsupported scheme %q", raw, scheme)
		}
		s = "https://" + strings.TrimPrefix(s, "//")
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("identifier %q: %w", raw, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("identifier %q: unsupported scheme %q", raw, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return "", fmt.Errorf("identifier %q: missing host", raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	if escaped := u.EscapedPath(); strings.HasSuffix(escaped, "/") {
		escaped = strings.TrimRight(escaped, "/")
		path, err := url.PathUnescape(escaped)
		if err != nil {
			return "", fmt.Errorf("identifier %q: %w", raw, err)
		}
		u.Path = path
		u.RawPath = escaped
	}
	return u.String(), nil
}

// opaqueScheme reports a scheme on a URL without an authority, such as
// mailto: or javascript:. A bare host with a port is not a scheme.
func opaqueScheme(s string) (string, bool) {
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Opaque == "" {
		return "", false
	}
	port := u.Opaque
	if i := strings.IndexAny(port, "/?#"); i >= 0 {
		port = port[:i]
	}
	if port != "" && strings.Trim(port, "0123456789") == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme), true
}

// Host returns the lowercased hostname of a canonical identifier.
func Host(identifier string) string {
	u, err := url.Parse(identifier)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
