// Package ssrf validates upstream provider base URLs against
// server-side-request-forgery targets before a provider is ever
// instantiated. A URL that fails validation is a fatal configuration
// error at boot — see spec.md §4.12 and §7.
package ssrf

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var blockedHostLiterals = []string{
	"localhost",
	"127.0.0.1",
	"::1",
	"0.0.0.0",
	"169.254.169.254", // AWS + Azure metadata endpoint
	"metadata.google.internal",
	"metadata",
}

// ValidateUpstreamURL checks raw against the SSRF blocklist described in
// spec.md §4.12. context is used only to make the error message
// identifiable (e.g. "provider \"openai\" api_base").
func ValidateUpstreamURL(raw, context string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s has invalid URL format: %w", context, err)
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("%s must use http:// or https:// scheme, got %q", context, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%s URL must have a valid host", context)
	}
	hostLower := strings.ToLower(host)

	for _, blocked := range blockedHostLiterals {
		if hostLower == blocked || strings.HasSuffix(hostLower, "."+blocked) {
			return fmt.Errorf("%s URL host %q is blocked for security reasons (SSRF protection)", context, host)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateOrInternal(ip) {
			return fmt.Errorf("%s URL host %q is a private/internal IP address (SSRF protection)", context, host)
		}
		return nil
	}

	// Decimal-encoded IPv4 (e.g. 2130706433 == 127.0.0.1).
	if isAllDigits(host) {
		if n, err := strconv.ParseUint(host, 10, 32); err == nil {
			ip := uint32ToIPv4(uint32(n))
			if isPrivateOrInternal(ip) {
				return fmt.Errorf("%s URL host %q is a decimal-encoded private IP address (SSRF protection)", context, host)
			}
		}
	}

	// Hex-encoded IPv4 (e.g. 0x7f000001 == 127.0.0.1).
	if strings.HasPrefix(host, "0x") || strings.HasPrefix(host, "0X") {
		if n, err := strconv.ParseUint(host[2:], 16, 32); err == nil {
			ip := uint32ToIPv4(uint32(n))
			if isPrivateOrInternal(ip) {
				return fmt.Errorf("%s URL host %q is a hex-encoded private IP address (SSRF protection)", context, host)
			}
		}
	}

	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func uint32ToIPv4(n uint32) net.IP {
	return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// isPrivateOrInternal reports whether ip falls in a loopback, private,
// link-local, unique-local, broadcast, documentation, reserved, shared
// address space (RFC 6598), or IPv4-mapped-equivalent range.
func isPrivateOrInternal(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.IsLoopback() || ip4.IsPrivate() || ip4.IsLinkLocalUnicast() ||
			ip4.IsUnspecified() || isBroadcast(ip4) || isDocumentation(ip4) ||
			isSharedAddressSpace(ip4) || ip4[0] >= 240 {
			return true
		}
		return false
	}

	// IPv6.
	if ip.IsLoopback() || ip.IsUnspecified() || isUniqueLocalV6(ip) || ip.IsLinkLocalUnicast() {
		return true
	}
	if mapped := ip.To4(); mapped != nil {
		return isPrivateOrInternal(mapped)
	}
	return false
}

func isBroadcast(ip4 net.IP) bool {
	return ip4.Equal(net.IPv4(255, 255, 255, 255))
}

func isDocumentation(ip4 net.IP) bool {
	// TEST-NET-1/2/3: 192.0.2.0/24, 198.51.100.0/24, 203.0.113.0/24
	switch {
	case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2:
		return true
	case ip4[0] == 198 && ip4[1] == 51 && ip4[2] == 100:
		return true
	case ip4[0] == 203 && ip4[1] == 0 && ip4[2] == 113:
		return true
	}
	return false
}

func isSharedAddressSpace(ip4 net.IP) bool {
	// 100.64.0.0/10 (RFC 6598, carrier-grade NAT).
	return ip4[0] == 100 && (ip4[1]&0xC0) == 64
}

func isUniqueLocalV6(ip net.IP) bool {
	return len(ip) == net.IPv6len && (ip[0]&0xfe) == 0xfc
}
