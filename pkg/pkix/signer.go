package pkix

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/samber/lo"
)

// Issuer is a root CA able to sign leaf certificates: the root key pair, the root certificate
// and the serial allocator of that root. Several issuers may live in one process.
type Issuer struct {
	keyPair     *KeyPair
	certificate *Certificate
	serials     SerialAllocator
}

// NewIssuer checks that keyPair belongs to certificate and that certificate is a CA allowed to
// sign certificates. A nil serials draws random serial numbers from a RandomSerialAllocator,
// which remembers every serial it hands out; long-lived issuers pass a CounterSerialAllocator.
func NewIssuer(keyPair *KeyPair, certificate *Certificate, serials SerialAllocator) (*Issuer, error) {
	if certificate == nil {
		return nil, fmt.Errorf("%w: nil issuer certificate", ErrInvalidParameter)
	}
	if err := keyPair.Check(); err != nil {
		return nil, err
	}
	if !IsPublicKeyOf(keyPair.Signer(), certificate.PublicKey) {
		return nil, fmt.Errorf("%w: issuer certificate was not issued for this key", ErrKeyMismatch)
	}
	if !certificate.Extensions.IsCA() {
		return nil, fmt.Errorf("%w: issuer certificate is not a CA", ErrInvalidParameter)
	}
	if len(certificate.Extensions.KeyUsage) > 0 && !lo.Contains(certificate.Extensions.KeyUsage, KeyUsageCertSign) {
		return nil, fmt.Errorf("%w: issuer certificate may not sign certificates", ErrInvalidParameter)
	}
	if serials == nil {
		serials = NewRandomSerialAllocator(rand.Reader)
	}
	return &Issuer{keyPair: keyPair, certificate: certificate, serials: serials}, nil
}

func (i *Issuer) Certificate() *Certificate { return i.certificate }

// Sign issues a leaf certificate for csr.
//
// The request must carry a valid proof of possession. Extensions are replaced by
// EnforceLeafExtensions. The requested validity is limited to the validity of the issuer, then
// cut to policy.MaxLeafLifetime from its start. Only an empty result is an error. The returned
// certificate verifies against the issuer certificate with VerifyChain.
func (i *Issuer) Sign(csr *CertificateRequest, policy Policy, requested Validity) (*Certificate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := csr.CheckProofOfPossession(); err != nil {
		return nil, err
	}
	if err := checkPublicKey(csr.PublicKey, policy); err != nil {
		return nil, err
	}
	subject, err := BuildSubject(csr.Subject)
	if err != nil {
		return nil, err
	}
	extensions, err := EnforceLeafExtensions(csr.RequestedExtensions, policy)
	if err != nil {
		return nil, err
	}

	requested = requested.normalize()
	if err := requested.Validate(); err != nil {
		return nil, err
	}
	validity, err := requested.ClampTo(i.certificate.Validity)
	if err != nil {
		return nil, err
	}
	validity = validity.limitLifetime(policy.MaxLeafLifetime)

	extensions.SubjectKeyID, err = SubjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, err
	}
	extensions.AuthorityKeyID = i.certificate.Extensions.SubjectKeyID

	serial, err := i.serials.Next()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      subject.Name(),
		NotBefore:    validity.NotBefore,
		NotAfter:     validity.NotAfter,
	}
	if err := extensions.applyTo(template); err != nil {
		return nil, err
	}

	parent := i.certificate.X509()
	if parent == nil {
		return nil, fmt.Errorf("%w: malformed issuer certificate", ErrInvalidParameter)
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, csr.PublicKey, i.keyPair.Signer())
	if err != nil {
		return nil, fmt.Errorf("sign leaf certificate: %w", err)
	}
	return NewCertificate(der)
}

// checkPublicKey applies the key strength rules of the policy to a key generated elsewhere.
func checkPublicKey(pub crypto.PublicKey, policy Policy) error {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return checkKeyOption(PrivateKeyOption{KeyType: PrivateKeyTypeRSA, BitLength: k.N.BitLen()}, policy)
	case *ecdsa.PublicKey:
		return checkKeyOption(PrivateKeyOption{KeyType: PrivateKeyTypeECDSA, CurveType: ECDSACurveType(k.Curve.Params().Name)}, policy)
	}
	return fmt.Errorf("%w: unsupported public key type %T", ErrInvalidParameter, pub)
}
