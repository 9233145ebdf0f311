// Package principal picks the admission-control subject for a join request.
// Verified token subjects take priority; unauthenticated joins fall back to
// the client IP so open-mode deployments still get per-caller budgets.
package principal

import (
	"net"
	"net/http"
	"strings"
)

type Kind string

const (
	KindToken Kind = "token"
	KindIP    Kind = "ip"
	KindAnon  Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Key is the identifier used for rate-limit maps. Prefixed by kind so a
	// token subject that happens to look like an IP cannot collide.
	Key string
}

func Resolve(subject string, r *http.Request, trustProxyHeaders bool) Resolved {
	if s := strings.TrimSpace(subject); s != "" {
		return Resolved{Kind: KindToken, Key: "sub:" + s}
	}
	if ip := resolveClientIP(r, trustProxyHeaders); ip != "" {
		return Resolved{Kind: KindIP, Key: "ip:" + ip}
	}
	return Resolved{Kind: KindAnon, Key: "anonymous"}
}

func resolveClientIP(r *http.Request, trustProxyHeaders bool) string {
	if r == nil {
		return ""
	}

	if trustProxyHeaders {
		if ip := parseIP(strings.TrimSpace(r.Header.Get("CF-Connecting-IP"))); ip != "" {
			return ip
		}
		if ip := parseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != "" {
			return ip
		}

		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			first := strings.TrimSpace(strings.Split(raw, ",")[0])
			if ip := parseIP(first); ip != "" {
				return ip
			}
		}
	}

	// Fallback: RemoteAddr.
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Some proxies include a port; accept "ip:port" as well.
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}

	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
