package pkix

import (
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

type csrOptions struct {
	extKeyUsage      []ExtKeyUsage
	keyUsage         []KeyUsage
	basicConstraints *BasicConstraints
}

type CSROption func(*csrOptions)

// WithExtKeyUsage asks for the given extended key usages. The signer keeps only those its
// policy allows.
func WithExtKeyUsage(usages ...ExtKeyUsage) CSROption {
	return func(o *csrOptions) {
		o.extKeyUsage = append(o.extKeyUsage, usages...)
	}
}

func WithKeyUsage(usages ...KeyUsage) CSROption {
	return func(o *csrOptions) {
		o.keyUsage = append(o.keyUsage, usages...)
	}
}

// WithBasicConstraints puts basic constraints in the request. The signer never honours isCA.
func WithBasicConstraints(bc BasicConstraints) CSROption {
	return func(o *csrOptions) {
		o.basicConstraints = &bc
	}
}

// CreateCertificateSigningRequest builds a certificate request for keyPair and signs it with the
// same key as proof of possession.
func CreateCertificateSigningRequest(keyPair *KeyPair, subject Subject, sans []SANEntry, opts ...CSROption) (*CertificateRequest, error) {
	var options csrOptions
	for _, opt := range opts {
		opt(&options)
	}

	subject, err := BuildSubject(subject)
	if err != nil {
		return nil, err
	}
	sans, err = BuildSANList(sans)
	if err != nil {
		return nil, err
	}
	if err := keyPair.Check(); err != nil {
		return nil, err
	}

	requested := ExtensionSet{
		BasicConstraints: options.basicConstraints,
		KeyUsage:         options.keyUsage,
		ExtKeyUsage:      options.extKeyUsage,
		SubjectAltNames:  sans,
	}
	extensions, err := requested.requestExtensions()
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:         subject.Name(),
		ExtraExtensions: extensions,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, keyPair.Signer())
	if err != nil {
		return nil, fmt.Errorf("sign certificate request: %w", err)
	}
	return NewCertificateRequest(der)
}
