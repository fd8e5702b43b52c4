package pkix

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

type SANType string

const (
	SANTypeDNS SANType = "DNS"
	SANTypeIP  SANType = "IP"

	maxLabelLength    = 63
	maxHostnameLength = 253
)

// SANEntry is one subject alternative name: a DNS name or an IP address.
type SANEntry struct {
	Type      SANType `json:"type"`
	DNSName   string  `json:"dns_name,omitempty"`
	IPAddress net.IP  `json:"ip_address,omitempty"`
}

func DNSName(name string) SANEntry {
	return SANEntry{Type: SANTypeDNS, DNSName: name}
}

func IPAddress(ip net.IP) SANEntry {
	return SANEntry{Type: SANTypeIP, IPAddress: ip}
}

// ParseSANEntry accepts the openssl notation "DNS:example.com" / "IP:10.0.0.1".
// Without a prefix the value is an IP address if it parses as one, a DNS name otherwise.
func ParseSANEntry(value string) (SANEntry, error) {
	value = strings.TrimSpace(value)
	prefix, rest, found := strings.Cut(value, ":")
	if found {
		switch strings.ToUpper(prefix) {
		case "DNS":
			return DNSName(rest), nil
		case "IP":
			ip := net.ParseIP(rest)
			if ip == nil {
				return SANEntry{}, fmt.Errorf("%w: %q is not an IP address", ErrInvalidSAN, rest)
			}
			return IPAddress(ip), nil
		}
	}

	if ip := net.ParseIP(value); ip != nil {
		return IPAddress(ip), nil
	}
	if found {
		return SANEntry{}, fmt.Errorf("%w: unknown type in %q", ErrInvalidSAN, value)
	}
	return DNSName(value), nil
}

// ParseSANList parses every value with ParseSANEntry and passes the result to BuildSANList.
func ParseSANList(values []string) ([]SANEntry, error) {
	entries := make([]SANEntry, 0, len(values))
	for _, v := range values {
		entry, err := ParseSANEntry(v)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return BuildSANList(entries)
}

// BuildSANList validates and normalizes the entries. Duplicates collapse onto the first
// occurrence so the result keeps first-seen order.
func BuildSANList(entries []SANEntry) ([]SANEntry, error) {
	result := make([]SANEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		normalized, err := entry.normalize()
		if err != nil {
			return nil, fmt.Errorf("san[%d]: %w", i, err)
		}
		key := normalized.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, normalized)
	}
	return result, nil
}

func (e SANEntry) normalize() (SANEntry, error) {
	switch e.Type {
	case SANTypeDNS:
		name, err := normalizeDNSName(e.DNSName)
		if err != nil {
			return SANEntry{}, err
		}
		return DNSName(name), nil
	case SANTypeIP:
		switch len(e.IPAddress) {
		case net.IPv4len:
		case net.IPv6len:
		default:
			return SANEntry{}, fmt.Errorf("%w: IP address has %d bytes", ErrInvalidSAN, len(e.IPAddress))
		}
		if v4 := e.IPAddress.To4(); v4 != nil {
			return IPAddress(v4), nil
		}
		return IPAddress(e.IPAddress), nil
	}
	return SANEntry{}, fmt.Errorf("%w: unknown type %q", ErrInvalidSAN, e.Type)
}

func (e SANEntry) String() string {
	switch e.Type {
	case SANTypeDNS:
		return "DNS:" + e.DNSName
	case SANTypeIP:
		return "IP:" + e.IPAddress.String()
	}
	return string(e.Type) + ":"
}

var hostnameProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.VerifyDNSLength(true),
)

// normalizeDNSName returns the lower-case A-label form of name. A single leftmost "*" label
// is allowed; no other wildcard form is.
func normalizeDNSName(name string) (string, error) {
	wildcard := false
	if strings.HasPrefix(name, "*.") {
		wildcard = true
		name = name[2:]
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty DNS name", ErrInvalidSAN)
	}
	if net.ParseIP(name) != nil {
		return "", fmt.Errorf("%w: %q is an IP address, not a DNS name", ErrInvalidSAN, name)
	}

	ascii, err := hostnameProfile.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %s", ErrInvalidSAN, name, err.Error())
	}
	for _, label := range strings.Split(ascii, ".") {
		if len(label) == 0 || len(label) > maxLabelLength {
			return "", fmt.Errorf("%w: %q has a label of %d octets", ErrInvalidSAN, name, len(label))
		}
	}

	if wildcard {
		ascii = "*." + ascii
	}
	if len(ascii) > maxHostnameLength {
		return "", fmt.Errorf("%w: %q is longer than %d octets", ErrInvalidSAN, name, maxHostnameLength)
	}
	return ascii, nil
}
