package pkix

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
)

// Certificate is a signed X.509 certificate. The link to its issuer is by value: the Issuer
// name and the AuthorityKeyID in Extensions.
type Certificate struct {
	Subject            Subject
	Issuer             Subject
	PublicKey          crypto.PublicKey
	SerialNumber       *big.Int
	Validity           Validity
	Extensions         ExtensionSet
	SignatureAlgorithm x509.SignatureAlgorithm
	Signature          []byte
	Raw                []byte // DER encoding of the whole certificate.

	cert *x509.Certificate
}

// NewCertificate decodes a DER encoded certificate.
func NewCertificate(der []byte) (*Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	return CertificateFromX509(cert)
}

func CertificateFromX509(cert *x509.Certificate) (*Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("%w: nil certificate", ErrInvalidParameter)
	}
	extensions, err := extensionsFromX509(cert)
	if err != nil {
		return nil, err
	}
	return &Certificate{
		Subject:            SubjectFromName(cert.Subject),
		Issuer:             SubjectFromName(cert.Issuer),
		PublicKey:          cert.PublicKey,
		SerialNumber:       cert.SerialNumber,
		Validity:           Validity{NotBefore: cert.NotBefore.UTC(), NotAfter: cert.NotAfter.UTC()},
		Extensions:         extensions,
		SignatureAlgorithm: cert.SignatureAlgorithm,
		Signature:          cert.Signature,
		Raw:                cert.Raw,
		cert:               cert,
	}, nil
}

// X509 returns a copy of the parsed form of the certificate.
func (c *Certificate) X509() *x509.Certificate {
	if c.cert == nil {
		cert, err := x509.ParseCertificate(c.Raw)
		if err != nil {
			return nil
		}
		return cert
	}
	cert := *c.cert
	return &cert
}

func (c *Certificate) IsSelfIssued() bool {
	x := c.X509()
	return x != nil && bytes.Equal(x.RawIssuer, x.RawSubject)
}

func (c *Certificate) Equal(other *Certificate) bool {
	if c == nil || other == nil {
		return c == other
	}
	return bytes.Equal(c.Raw, other.Raw)
}

// CertificateRequest is a PKCS#10 certificate signing request. Its self-signature proves
// possession of the private key and carries no trust.
type CertificateRequest struct {
	Subject             Subject
	PublicKey           crypto.PublicKey
	RequestedExtensions ExtensionSet
	SignatureAlgorithm  x509.SignatureAlgorithm
	Signature           []byte
	Raw                 []byte

	csr *x509.CertificateRequest
}

// NewCertificateRequest decodes a DER encoded certificate request. The self-signature is not
// checked here; see CheckProofOfPossession.
func NewCertificateRequest(der []byte) (*CertificateRequest, error) {
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	return CertificateRequestFromX509(csr)
}

func CertificateRequestFromX509(csr *x509.CertificateRequest) (*CertificateRequest, error) {
	if csr == nil {
		return nil, fmt.Errorf("%w: nil certificate request", ErrInvalidParameter)
	}
	extensions, err := extensionsFromRequest(csr)
	if err != nil {
		return nil, err
	}
	return &CertificateRequest{
		Subject:             SubjectFromName(csr.Subject),
		PublicKey:           csr.PublicKey,
		RequestedExtensions: extensions,
		SignatureAlgorithm:  csr.SignatureAlgorithm,
		Signature:           csr.Signature,
		Raw:                 csr.Raw,
		csr:                 csr,
	}, nil
}

// CheckProofOfPossession verifies the self-signature of the request under its embedded key.
func (r *CertificateRequest) CheckProofOfPossession() error {
	if r == nil || r.csr == nil {
		return fmt.Errorf("%w: empty certificate request", ErrProofOfPossession)
	}
	if err := r.csr.CheckSignature(); err != nil {
		return fmt.Errorf("%w: %s", ErrProofOfPossession, err.Error())
	}
	return nil
}

// X509 returns a copy of the parsed form of the request, or nil for a request that was not
// decoded from DER.
func (r *CertificateRequest) X509() *x509.CertificateRequest {
	if r == nil || r.csr == nil {
		return nil
	}
	csr := *r.csr
	return &csr
}
