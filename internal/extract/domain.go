package extract

import (
	"net"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the eTLD+1 for host. Hosts without one (IP
// addresses, localhost, bare public suffixes) are returned lowercased as-is.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameSite reports whether two hosts share a registrable domain.
func SameSite(host, other string) bool {
	if host == "" || other == "" {
		return false
	}
	return RegistrableDomain(host) == RegistrableDomain(other)
}
