package pkix

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// IssueRootCertificate builds a self-signed root certificate. The root is a CA that may sign
// certificates and CRLs, its subject key identifier is derived from the public key and its
// authority key identifier is the same value. A nil serials draws a random serial number.
func IssueRootCertificate(keyPair *KeyPair, subject Subject, validity Validity, policy Policy, serials SerialAllocator) (*Certificate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := keyPair.Check(); err != nil {
		return nil, err
	}
	if err := checkKeyOption(keyPair.Option(), policy); err != nil {
		return nil, err
	}
	subject, err := BuildSubject(subject)
	if err != nil {
		return nil, err
	}
	validity = validity.normalize()
	if err := validity.Validate(); err != nil {
		return nil, err
	}
	if err := validity.checkLifetime(policy.MaxRootLifetime, "root"); err != nil {
		return nil, err
	}

	extensions, err := rootExtensions(keyPair.Public(), policy)
	if err != nil {
		return nil, err
	}
	if serials == nil {
		serials = NewRandomSerialAllocator(rand.Reader)
	}
	serial, err := serials.Next()
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

	der, err := x509.CreateCertificate(rand.Reader, template, template, keyPair.Public(), keyPair.Signer())
	if err != nil {
		return nil, fmt.Errorf("sign root certificate: %w", err)
	}
	return NewCertificate(der)
}
