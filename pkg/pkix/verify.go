package pkix

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/samber/lo"
)

type FailureReason string

const (
	ReasonMissingCertificate     FailureReason = "missing_certificate"
	ReasonSignatureInvalid       FailureReason = "signature_invalid"
	ReasonLeafNotYetValid        FailureReason = "leaf_not_yet_valid"
	ReasonLeafExpired            FailureReason = "leaf_expired"
	ReasonRootNotYetValid        FailureReason = "root_not_yet_valid"
	ReasonRootExpired            FailureReason = "root_expired"
	ReasonRootNotCA              FailureReason = "root_not_ca"
	ReasonRootCannotSign         FailureReason = "root_cannot_sign"
	ReasonLeafIsCA               FailureReason = "leaf_is_ca"
	ReasonIssuerMismatch         FailureReason = "issuer_mismatch"
	ReasonAuthorityKeyIDMismatch FailureReason = "authority_key_id_mismatch"
	ReasonHostnameMismatch       FailureReason = "hostname_mismatch"
)

var reasonDescriptions = map[FailureReason]string{
	ReasonMissingCertificate:     "leaf or root certificate is missing",
	ReasonSignatureInvalid:       "leaf signature does not verify under the root public key",
	ReasonLeafNotYetValid:        "leaf certificate is not valid yet",
	ReasonLeafExpired:            "leaf certificate has expired",
	ReasonRootNotYetValid:        "root certificate is not valid yet",
	ReasonRootExpired:            "root certificate has expired",
	ReasonRootNotCA:              "root certificate is not a CA",
	ReasonRootCannotSign:         "root key usage does not allow certificate signing",
	ReasonLeafIsCA:               "leaf certificate is a CA",
	ReasonIssuerMismatch:         "leaf issuer is not the root subject",
	ReasonAuthorityKeyIDMismatch: "leaf authority key identifier is not the root subject key identifier",
	ReasonHostnameMismatch:       "hostname is not covered by the subject alternative names",
}

func (r FailureReason) Description() string {
	if d, ok := reasonDescriptions[r]; ok {
		return d
	}
	return string(r)
}

type VerifyOptions struct {
	Hostname string    // Optional. A DNS name or an IP address.
	At       time.Time // Defaults to now.
}

// VerificationResult is the outcome of VerifyChain. A failed verification is not an error;
// callers branch on Valid and read Reasons for the details.
type VerificationResult struct {
	Valid    bool            `json:"valid"`
	Reasons  []FailureReason `json:"reasons,omitempty"`
	Hostname string          `json:"hostname,omitempty"`
	At       time.Time       `json:"at"`
}

// VerifyChain checks that leaf was issued by root. Every check runs and every failure is
// reported. Passing the root as the leaf verifies the self-signature of the root.
func VerifyChain(leaf, root *Certificate, opts VerifyOptions) VerificationResult {
	at := opts.At
	if at.IsZero() {
		at = time.Now()
	}
	result := VerificationResult{Hostname: opts.Hostname, At: at.UTC()}
	fail := func(reason FailureReason) {
		result.Reasons = append(result.Reasons, reason)
	}

	if leaf == nil || root == nil {
		fail(ReasonMissingCertificate)
		return result
	}
	leafX509, rootX509 := leaf.X509(), root.X509()
	if leafX509 == nil || rootX509 == nil {
		fail(ReasonMissingCertificate)
		return result
	}
	selfChain := bytes.Equal(leaf.Raw, root.Raw)

	if err := rootX509.CheckSignature(leafX509.SignatureAlgorithm, leafX509.RawTBSCertificate, leafX509.Signature); err != nil {
		fail(ReasonSignatureInvalid)
	}

	if at.Before(leaf.Validity.NotBefore) {
		fail(ReasonLeafNotYetValid)
	} else if at.After(leaf.Validity.NotAfter) {
		fail(ReasonLeafExpired)
	}
	if !selfChain {
		if at.Before(root.Validity.NotBefore) {
			fail(ReasonRootNotYetValid)
		} else if at.After(root.Validity.NotAfter) {
			fail(ReasonRootExpired)
		}
	}

	if !root.Extensions.IsCA() {
		fail(ReasonRootNotCA)
	}
	if len(root.Extensions.KeyUsage) > 0 && !lo.Contains(root.Extensions.KeyUsage, KeyUsageCertSign) {
		fail(ReasonRootCannotSign)
	}
	if !selfChain && leaf.Extensions.IsCA() {
		fail(ReasonLeafIsCA)
	}

	if !bytes.Equal(leafX509.RawIssuer, rootX509.RawSubject) {
		fail(ReasonIssuerMismatch)
	}
	if aki := leaf.Extensions.AuthorityKeyID; len(aki) > 0 && len(root.Extensions.SubjectKeyID) > 0 &&
		!bytes.Equal(aki, root.Extensions.SubjectKeyID) {
		fail(ReasonAuthorityKeyIDMismatch)
	}

	if opts.Hostname != "" && !MatchHostname(leaf.Extensions.SubjectAltNames, opts.Hostname) {
		fail(ReasonHostnameMismatch)
	}

	result.Valid = len(result.Reasons) == 0
	return result
}

// MatchHostname reports whether hostname is covered by sans. An IP address only matches IP
// entries. A DNS name matches an equal entry, or a wildcard entry whose "*" stands for exactly
// its first label.
func MatchHostname(sans []SANEntry, hostname string) bool {
	hostname = strings.TrimSuffix(strings.TrimSpace(hostname), ".")
	if ip := net.ParseIP(strings.Trim(hostname, "[]")); ip != nil {
		return lo.ContainsBy(sans, func(san SANEntry) bool {
			return san.Type == SANTypeIP && san.IPAddress.Equal(ip)
		})
	}

	name, err := hostnameProfile.ToASCII(hostname)
	if err != nil || name == "" {
		return false
	}
	return lo.ContainsBy(sans, func(san SANEntry) bool {
		if san.Type != SANTypeDNS {
			return false
		}
		pattern := strings.ToLower(san.DNSName)
		if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
			label, rest, found := strings.Cut(name, ".")
			return found && label != "" && rest == suffix
		}
		return name == pattern
	})
}

// Report renders the result for people.
func (r VerificationResult) Report() string {
	var sb strings.Builder
	if r.Valid {
		sb.WriteString("chain: OK")
	} else {
		sb.WriteString("chain: FAILED")
	}
	fmt.Fprintf(&sb, " (checked at %s", r.At.Format(time.RFC3339))
	if r.Hostname != "" {
		fmt.Fprintf(&sb, ", hostname %s", r.Hostname)
	}
	sb.WriteString(")\n")
	for _, reason := range r.Reasons {
		fmt.Fprintf(&sb, "  - %s: %s\n", reason, reason.Description())
	}
	return sb.String()
}
