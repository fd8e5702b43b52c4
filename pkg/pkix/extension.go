package pkix

import (
	"crypto"
	"crypto/sha1"
	"crypto/x509"
	gopkix "crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"

	"github.com/samber/lo"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

type KeyUsage string

const (
	KeyUsageDigitalSignature  KeyUsage = "digital_signature"
	KeyUsageContentCommitment KeyUsage = "content_commitment"
	KeyUsageKeyEncipherment   KeyUsage = "key_encipherment"
	KeyUsageDataEncipherment  KeyUsage = "data_encipherment"
	KeyUsageKeyAgreement      KeyUsage = "key_agreement"
	KeyUsageCertSign          KeyUsage = "cert_sign"
	KeyUsageCRLSign           KeyUsage = "crl_sign"
)

// Ordered as the bits of the KeyUsage BIT STRING.
var knownKeyUsages = []lo.Tuple2[KeyUsage, x509.KeyUsage]{
	{A: KeyUsageDigitalSignature, B: x509.KeyUsageDigitalSignature},
	{A: KeyUsageContentCommitment, B: x509.KeyUsageContentCommitment},
	{A: KeyUsageKeyEncipherment, B: x509.KeyUsageKeyEncipherment},
	{A: KeyUsageDataEncipherment, B: x509.KeyUsageDataEncipherment},
	{A: KeyUsageKeyAgreement, B: x509.KeyUsageKeyAgreement},
	{A: KeyUsageCertSign, B: x509.KeyUsageCertSign},
	{A: KeyUsageCRLSign, B: x509.KeyUsageCRLSign},
}

type ExtKeyUsage string

const (
	ExtKeyUsageServerAuth      ExtKeyUsage = "server_auth"
	ExtKeyUsageClientAuth      ExtKeyUsage = "client_auth"
	ExtKeyUsageCodeSigning     ExtKeyUsage = "code_signing"
	ExtKeyUsageEmailProtection ExtKeyUsage = "email_protection"
	ExtKeyUsageTimeStamping    ExtKeyUsage = "time_stamping"
	ExtKeyUsageOCSPSigning     ExtKeyUsage = "ocsp_signing"
)

var knownExtKeyUsages = []ExtKeyUsage{
	ExtKeyUsageServerAuth,
	ExtKeyUsageClientAuth,
	ExtKeyUsageCodeSigning,
	ExtKeyUsageEmailProtection,
	ExtKeyUsageTimeStamping,
	ExtKeyUsageOCSPSigning,
}

var extKeyUsageToX509 = map[ExtKeyUsage]x509.ExtKeyUsage{
	ExtKeyUsageServerAuth:      x509.ExtKeyUsageServerAuth,
	ExtKeyUsageClientAuth:      x509.ExtKeyUsageClientAuth,
	ExtKeyUsageCodeSigning:     x509.ExtKeyUsageCodeSigning,
	ExtKeyUsageEmailProtection: x509.ExtKeyUsageEmailProtection,
	ExtKeyUsageTimeStamping:    x509.ExtKeyUsageTimeStamping,
	ExtKeyUsageOCSPSigning:     x509.ExtKeyUsageOCSPSigning,
}

var extKeyUsageOIDs = map[ExtKeyUsage]asn1.ObjectIdentifier{
	ExtKeyUsageServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	ExtKeyUsageClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	ExtKeyUsageCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	ExtKeyUsageEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	ExtKeyUsageTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	ExtKeyUsageOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

var (
	oidExtensionKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtensionSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
)

type BasicConstraints struct {
	IsCA       bool `json:"is_ca"`
	MaxPathLen *int `json:"max_path_len,omitempty"` // nil means unconstrained.
}

// ExtensionSet is the part of a certificate or certificate request the engine reasons about.
type ExtensionSet struct {
	BasicConstraints *BasicConstraints `json:"basic_constraints,omitempty"`
	KeyUsage         []KeyUsage        `json:"key_usage,omitempty"`
	ExtKeyUsage      []ExtKeyUsage     `json:"ext_key_usage,omitempty"`
	SubjectAltNames  []SANEntry        `json:"subject_alt_names,omitempty"`
	AuthorityKeyID   []byte            `json:"authority_key_id,omitempty"`
	SubjectKeyID     []byte            `json:"subject_key_id,omitempty"`
}

// IsCA reports whether basic constraints are present and mark a CA.
func (e ExtensionSet) IsCA() bool {
	return e.BasicConstraints != nil && e.BasicConstraints.IsCA
}

// EnforceLeafExtensions turns the extensions requested in a CSR into the extensions of a leaf.
// Whatever was requested, the leaf is never a CA and its key usage is fixed. The extended key
// usages are the requested ones the policy allows; when none remain the policy default applies.
// Subject alternative names go through BuildSANList, so the leaf carries them in canonical
// form: DNS names in lower-case A-label form, IPv4-mapped addresses as 4 bytes, duplicates
// dropped.
func EnforceLeafExtensions(requested ExtensionSet, policy Policy) (ExtensionSet, error) {
	sans, err := BuildSANList(requested.SubjectAltNames)
	if err != nil {
		return ExtensionSet{}, err
	}

	extKeyUsage := lo.Uniq(lo.Filter(requested.ExtKeyUsage, func(u ExtKeyUsage, _ int) bool {
		return lo.Contains(policy.AllowedExtKeyUsages, u)
	}))
	if len(extKeyUsage) == 0 {
		extKeyUsage = append([]ExtKeyUsage(nil), policy.LeafExtKeyUsages...)
	}

	return ExtensionSet{
		BasicConstraints: &BasicConstraints{IsCA: false},
		KeyUsage:         []KeyUsage{KeyUsageDigitalSignature, KeyUsageKeyEncipherment},
		ExtKeyUsage:      extKeyUsage,
		SubjectAltNames:  sans,
	}, nil
}

func rootExtensions(pub crypto.PublicKey, policy Policy) (ExtensionSet, error) {
	ski, err := SubjectKeyID(pub)
	if err != nil {
		return ExtensionSet{}, err
	}
	bc := &BasicConstraints{IsCA: true}
	if policy.RootMaxPathLen >= 0 {
		bc.MaxPathLen = lo.ToPtr(policy.RootMaxPathLen)
	}
	return ExtensionSet{
		BasicConstraints: bc,
		KeyUsage:         []KeyUsage{KeyUsageCertSign, KeyUsageCRLSign},
		SubjectKeyID:     ski,
		AuthorityKeyID:   ski,
	}, nil
}

type subjectPublicKeyInfo struct {
	Algorithm gopkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// SubjectKeyID is the SHA-1 hash of the subjectPublicKey BIT STRING (RFC 5280 section 4.2.1.2, method 1).
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

func (e ExtensionSet) x509KeyUsage() x509.KeyUsage {
	var usage x509.KeyUsage
	for _, ku := range knownKeyUsages {
		if lo.Contains(e.KeyUsage, ku.A) {
			usage |= ku.B
		}
	}
	return usage
}

func keyUsageFromX509(usage x509.KeyUsage) []KeyUsage {
	result := make([]KeyUsage, 0, 2)
	for _, ku := range knownKeyUsages {
		if usage&ku.B != 0 {
			result = append(result, ku.A)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func extKeyUsageFromX509(usages []x509.ExtKeyUsage) []ExtKeyUsage {
	var result []ExtKeyUsage
	for _, u := range usages {
		for name, x := range extKeyUsageToX509 {
			if x == u {
				result = append(result, name)
				break
			}
		}
	}
	return result
}

// applyTo copies the extensions into a certificate template.
func (e ExtensionSet) applyTo(template *x509.Certificate) error {
	if bc := e.BasicConstraints; bc != nil {
		template.BasicConstraintsValid = true
		template.IsCA = bc.IsCA
		template.MaxPathLen = -1
		if bc.IsCA && bc.MaxPathLen != nil {
			template.MaxPathLen = *bc.MaxPathLen
			template.MaxPathLenZero = *bc.MaxPathLen == 0
		}
	}
	template.KeyUsage = e.x509KeyUsage()
	template.ExtKeyUsage = lo.Map(e.ExtKeyUsage, func(u ExtKeyUsage, _ int) x509.ExtKeyUsage { return extKeyUsageToX509[u] })
	template.SubjectKeyId = e.SubjectKeyID
	template.AuthorityKeyId = e.AuthorityKeyID

	if len(e.SubjectAltNames) > 0 {
		value, err := marshalSANs(e.SubjectAltNames)
		if err != nil {
			return err
		}
		template.ExtraExtensions = append(template.ExtraExtensions, gopkix.Extension{Id: oidExtensionSubjectAltName, Value: value})
	}
	return nil
}

func extensionsFromX509(cert *x509.Certificate) (ExtensionSet, error) {
	e := ExtensionSet{
		KeyUsage:       keyUsageFromX509(cert.KeyUsage),
		ExtKeyUsage:    extKeyUsageFromX509(cert.ExtKeyUsage),
		AuthorityKeyID: cert.AuthorityKeyId,
		SubjectKeyID:   cert.SubjectKeyId,
	}
	if cert.BasicConstraintsValid {
		e.BasicConstraints = &BasicConstraints{IsCA: cert.IsCA}
		if cert.IsCA && (cert.MaxPathLen > 0 || cert.MaxPathLenZero) {
			e.BasicConstraints.MaxPathLen = lo.ToPtr(cert.MaxPathLen)
		}
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidExtensionSubjectAltName) {
			sans, err := parseSANs(ext.Value)
			if err != nil {
				return ExtensionSet{}, err
			}
			e.SubjectAltNames = sans
		}
	}
	return e, nil
}

// requestExtensions encodes the extensions a CSR asks for. Only basic constraints, key
// usage, extended key usage and subject alternative names are requested.
func (e ExtensionSet) requestExtensions() ([]gopkix.Extension, error) {
	var exts []gopkix.Extension
	if len(e.SubjectAltNames) > 0 {
		value, err := marshalSANs(e.SubjectAltNames)
		if err != nil {
			return nil, err
		}
		exts = append(exts, gopkix.Extension{Id: oidExtensionSubjectAltName, Value: value})
	}
	if bc := e.BasicConstraints; bc != nil {
		value, err := marshalBasicConstraints(*bc)
		if err != nil {
			return nil, err
		}
		exts = append(exts, gopkix.Extension{Id: oidExtensionBasicConstraints, Critical: true, Value: value})
	}
	if len(e.KeyUsage) > 0 {
		value, err := marshalKeyUsage(e.x509KeyUsage())
		if err != nil {
			return nil, err
		}
		exts = append(exts, gopkix.Extension{Id: oidExtensionKeyUsage, Critical: true, Value: value})
	}
	if len(e.ExtKeyUsage) > 0 {
		oids := make([]asn1.ObjectIdentifier, 0, len(e.ExtKeyUsage))
		for _, u := range e.ExtKeyUsage {
			oid, ok := extKeyUsageOIDs[u]
			if !ok {
				return nil, fmt.Errorf("%w: unknown extended key usage %q", ErrInvalidParameter, u)
			}
			oids = append(oids, oid)
		}
		value, err := asn1.Marshal(oids)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
		}
		exts = append(exts, gopkix.Extension{Id: oidExtensionExtendedKeyUsage, Value: value})
	}
	return exts, nil
}

// extensionsFromRequest decodes the requested extensions of a parsed CSR. Unknown
// extensions and unknown extended key usages are ignored.
func extensionsFromRequest(csr *x509.CertificateRequest) (ExtensionSet, error) {
	var e ExtensionSet
	for _, ext := range csr.Extensions {
		switch {
		case ext.Id.Equal(oidExtensionSubjectAltName):
			sans, err := parseSANs(ext.Value)
			if err != nil {
				return ExtensionSet{}, err
			}
			e.SubjectAltNames = sans
		case ext.Id.Equal(oidExtensionBasicConstraints):
			bc, err := parseBasicConstraints(ext.Value)
			if err != nil {
				return ExtensionSet{}, err
			}
			e.BasicConstraints = bc
		case ext.Id.Equal(oidExtensionKeyUsage):
			var bits asn1.BitString
			if _, err := asn1.Unmarshal(ext.Value, &bits); err != nil {
				return ExtensionSet{}, fmt.Errorf("%w: key usage: %s", ErrInvalidParameter, err.Error())
			}
			var usage x509.KeyUsage
			for i := 0; i < 9; i++ {
				if bits.At(i) != 0 {
					usage |= 1 << uint(i)
				}
			}
			e.KeyUsage = keyUsageFromX509(usage)
		case ext.Id.Equal(oidExtensionExtendedKeyUsage):
			var oids []asn1.ObjectIdentifier
			if _, err := asn1.Unmarshal(ext.Value, &oids); err != nil {
				return ExtensionSet{}, fmt.Errorf("%w: extended key usage: %s", ErrInvalidParameter, err.Error())
			}
			for _, oid := range oids {
				for name, known := range extKeyUsageOIDs {
					if known.Equal(oid) {
						e.ExtKeyUsage = append(e.ExtKeyUsage, name)
						break
					}
				}
			}
		}
	}
	return e, nil
}

type basicConstraintsASN1 struct {
	IsCA       bool `asn1:"optional"`
	MaxPathLen int  `asn1:"optional,default:-1"`
}

func marshalBasicConstraints(bc BasicConstraints) ([]byte, error) {
	v := basicConstraintsASN1{IsCA: bc.IsCA, MaxPathLen: -1}
	if bc.IsCA && bc.MaxPathLen != nil {
		v.MaxPathLen = *bc.MaxPathLen
	}
	value, err := asn1.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: basic constraints: %s", ErrInvalidParameter, err.Error())
	}
	return value, nil
}

func parseBasicConstraints(der []byte) (*BasicConstraints, error) {
	v := basicConstraintsASN1{MaxPathLen: -1}
	if _, err := asn1.Unmarshal(der, &v); err != nil {
		return nil, fmt.Errorf("%w: basic constraints: %s", ErrInvalidParameter, err.Error())
	}
	bc := &BasicConstraints{IsCA: v.IsCA}
	if v.IsCA && v.MaxPathLen >= 0 {
		bc.MaxPathLen = lo.ToPtr(v.MaxPathLen)
	}
	return bc, nil
}

func marshalKeyUsage(usage x509.KeyUsage) ([]byte, error) {
	var bits [2]byte
	bitLength := 0
	for i := 0; i < 9; i++ {
		if usage&(1<<uint(i)) != 0 {
			bits[i/8] |= 0x80 >> uint(i%8)
			bitLength = i + 1
		}
	}
	value, err := asn1.Marshal(asn1.BitString{Bytes: bits[:(bitLength+7)/8], BitLength: bitLength})
	if err != nil {
		return nil, fmt.Errorf("%w: key usage: %s", ErrInvalidParameter, err.Error())
	}
	return value, nil
}

// marshalSANs encodes GeneralNames in list order.
func marshalSANs(sans []SANEntry) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, san := range sans {
			switch san.Type {
			case SANTypeDNS:
				b.AddASN1(cbasn1.Tag(2).ContextSpecific(), func(b *cryptobyte.Builder) {
					b.AddBytes([]byte(san.DNSName))
				})
			case SANTypeIP:
				ip := san.IPAddress
				if v4 := ip.To4(); v4 != nil {
					ip = v4
				}
				b.AddASN1(cbasn1.Tag(7).ContextSpecific(), func(b *cryptobyte.Builder) {
					b.AddBytes(ip)
				})
			default:
				b.SetError(fmt.Errorf("%w: unknown type %q", ErrInvalidSAN, san.Type))
			}
		}
	})
	value, err := b.Bytes()
	if err != nil {
		return nil, err
	}
	return value, nil
}

// parseSANs decodes DNS and IP GeneralNames in encoding order. Other name forms are skipped.
func parseSANs(der []byte) ([]SANEntry, error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, fmt.Errorf("%w: malformed extension", ErrInvalidSAN)
	}

	var sans []SANEntry
	for !seq.Empty() {
		var value cryptobyte.String
		var tag cbasn1.Tag
		if !seq.ReadAnyASN1(&value, &tag) {
			return nil, fmt.Errorf("%w: malformed general name", ErrInvalidSAN)
		}
		switch tag {
		case cbasn1.Tag(2).ContextSpecific():
			sans = append(sans, DNSName(string(value)))
		case cbasn1.Tag(7).ContextSpecific():
			if len(value) != net.IPv4len && len(value) != net.IPv6len {
				return nil, fmt.Errorf("%w: IP address has %d bytes", ErrInvalidSAN, len(value))
			}
			sans = append(sans, IPAddress(net.IP(append([]byte(nil), value...))))
		}
	}
	return sans, nil
}
