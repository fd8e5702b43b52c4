package pkix

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/youmark/pkcs8"
)

const (
	pemTypeCertificate         = "CERTIFICATE"
	pemTypeCertificateRequest  = "CERTIFICATE REQUEST"
	pemTypePrivateKey          = "PRIVATE KEY"
	pemTypeEncryptedPrivateKey = "ENCRYPTED PRIVATE KEY"
	pemTypeECPrivateKey        = "EC PRIVATE KEY"
	pemTypeRSAPrivateKey       = "RSA PRIVATE KEY"
	pemTypePublicKey           = "PUBLIC KEY"
)

// MarshalCertificates encodes the certificates as consecutive PEM blocks.
func MarshalCertificates(certs ...x509.Certificate) (string, error) {
	var sb strings.Builder
	for _, cert := range certs {
		if len(cert.Raw) == 0 {
			return "", fmt.Errorf("%w: certificate without DER encoding", ErrInvalidParameter)
		}
		if err := pem.Encode(&sb, &pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw}); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// ParseCertificate decodes every PEM certificate in certRaw, in order.
func ParseCertificate(certRaw []byte) ([]x509.Certificate, error) {
	certs := make([]x509.Certificate, 0, 2)
	for {
		pemBlock, remains := pem.Decode(certRaw)
		if pemBlock == nil || pemBlock.Type != pemTypeCertificate {
			return nil, fmt.Errorf("%w: invalid certificate", ErrInvalidParameter)
		}

		cert, err := x509.ParseCertificate(pemBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
		}
		certs = append(certs, *cert)

		if len(strings.TrimSpace(string(remains))) == 0 {
			break
		}
		certRaw = remains
	}

	return certs, nil
}

// EncodeCertificates is MarshalCertificates for engine certificates.
func EncodeCertificates(certs ...*Certificate) (string, error) {
	var sb strings.Builder
	for _, cert := range certs {
		if cert == nil || len(cert.Raw) == 0 {
			return "", fmt.Errorf("%w: empty certificate", ErrInvalidParameter)
		}
		if err := pem.Encode(&sb, &pem.Block{Type: pemTypeCertificate, Bytes: cert.Raw}); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// DecodeCertificates decodes a PEM chain into engine certificates. The leaf comes first.
func DecodeCertificates(certRaw []byte) ([]*Certificate, error) {
	x509Certs, err := ParseCertificate(certRaw)
	if err != nil {
		return nil, err
	}
	certs := make([]*Certificate, 0, len(x509Certs))
	for i := range x509Certs {
		cert, err := CertificateFromX509(&x509Certs[i])
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

func MarshalCertificateRequest(csr *CertificateRequest) (string, error) {
	if csr == nil || len(csr.Raw) == 0 {
		return "", fmt.Errorf("%w: empty certificate request", ErrInvalidParameter)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificateRequest, Bytes: csr.Raw})), nil
}

func ParseCertificateRequest(certRequest []byte) (*CertificateRequest, error) {
	pemBlock, _ := pem.Decode(certRequest)
	if pemBlock == nil || pemBlock.Type != pemTypeCertificateRequest {
		return nil, fmt.Errorf("%w: invalid certificate request", ErrInvalidParameter)
	}

	return NewCertificateRequest(pemBlock.Bytes)
}

// MarshalPrivateKey exports the private key of keyPair as PKCS#8 PEM. With a non-empty password
// the key is encrypted (PBES2, AES-256-CBC, PBKDF2-SHA256).
func MarshalPrivateKey(keyPair *KeyPair, password []byte) (string, error) {
	if err := keyPair.Check(); err != nil {
		return "", err
	}

	if len(password) == 0 {
		der, err := x509.MarshalPKCS8PrivateKey(keyPair.Signer())
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
		}
		return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePrivateKey, Bytes: der})), nil
	}

	der, err := pkcs8.MarshalPrivateKey(keyPair.Signer(), password, &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       16,
			IterationCount: 100000,
			HMACHash:       crypto.SHA256,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypeEncryptedPrivateKey, Bytes: der})), nil
}

var errWrongPassword = errors.New("wrong password or corrupted private key")

// ParsePrivateKey loads a PEM private key: PKCS#8 (encrypted when password is given), SEC1 or
// PKCS#1.
func ParsePrivateKey(key []byte, password []byte) (*KeyPair, error) {
	pemBlock, _ := pem.Decode(key)
	if pemBlock == nil {
		return nil, fmt.Errorf("%w: invalid private key", ErrInvalidParameter)
	}

	var privKey interface{}
	var err error
	switch pemBlock.Type {
	case pemTypeEncryptedPrivateKey:
		if len(password) == 0 {
			return nil, fmt.Errorf("%w: private key is encrypted and no password was given", ErrInvalidParameter)
		}
		privKey, err = pkcs8.ParsePKCS8PrivateKey(pemBlock.Bytes, password)
		if err != nil {
			err = errWrongPassword
		}
	case pemTypeECPrivateKey:
		privKey, err = x509.ParseECPrivateKey(pemBlock.Bytes)
	case pemTypeRSAPrivateKey:
		privKey, err = x509.ParsePKCS1PrivateKey(pemBlock.Bytes)
	default:
		privKey, err = x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}

	signer, ok := privKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrInvalidParameter, privKey)
	}
	return NewKeyPair(signer, nil)
}

func MarshalPublicKey(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidParameter, err.Error())
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemTypePublicKey, Bytes: der})), nil
}

func GetPublicKey(privKey crypto.PrivateKey) crypto.PublicKey {
	switch k := privKey.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	case crypto.Signer:
		return k.Public()
	}
	return nil
}

// GetPublicKeyID identifies a public key by the hex encoded SubjectKeyID.
func GetPublicKeyID(pub crypto.PublicKey) string {
	id, err := SubjectKeyID(pub)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(id)
}

func GetSubjectKeyIDFromCertificate(cert x509.Certificate) string {
	if len(cert.SubjectKeyId) > 0 {
		return hex.EncodeToString(cert.SubjectKeyId)
	}
	return GetPublicKeyID(cert.PublicKey)
}

func GetAuthorityKeyIDFromCertificate(cert x509.Certificate) string {
	return hex.EncodeToString(cert.AuthorityKeyId)
}

// GetFingerPrintFromCertificate is the SHA-256 digest of the DER certificate, prefixed with
// the hash name.
func GetFingerPrintFromCertificate(cert x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// RandomPassword returns n random bytes, hex encoded, for encrypting exported keys.
func RandomPassword(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %s", ErrEntropyUnavailable, err.Error())
	}
	return hex.EncodeToString(b), nil
}
