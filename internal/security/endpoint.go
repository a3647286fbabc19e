package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that must never be dialed from the server regardless of
// what DNS says about them.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"metadata.google":          true,
}

// ValidateEndpointURL vets an alert sink URL before the dispatcher will
// POST signed audit reports to it. Sinks come from operator config, but
// a typo'd or hostile sink must not turn the server into a probe of its
// own network: loopback, private, link-local and unspecified targets
// are rejected, for IP literals and for every address a name resolves to.
func ValidateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("URL scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if blockedHosts[strings.ToLower(host)] {
		return fmt.Errorf("URL host %q is not allowed", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if reason := unroutableReason(ip); reason != "" {
			return fmt.Errorf("%s addresses are not allowed", reason)
		}
		return nil
	}

	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if reason := unroutableReason(ip); reason != "" {
			return fmt.Errorf("URL host %q resolves to a %s address", host, reason)
		}
	}
	return nil
}

// unroutableReason names why an IP is off-limits for sink deliveries,
// or returns "" for publicly routable addresses.
func unroutableReason(ip net.IP) string {
	switch {
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsUnspecified():
		return "unspecified"
	}
	return ""
}
