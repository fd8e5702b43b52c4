package pkix

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
)

type PrivateKeyType string
type ECDSACurveType string

const (
	PrivateKeyTypeRSA   PrivateKeyType = "RSA"
	PrivateKeyTypeECDSA PrivateKeyType = "ECDSA"

	ECDSACurveTypeP256 ECDSACurveType = "P-256"
	ECDSACurveTypeP384 ECDSACurveType = "P-384"
	ECDSACurveTypeP521 ECDSACurveType = "P-521"

	maxRSABits = 8192
)

var supportedCurves = []ECDSACurveType{ECDSACurveTypeP256, ECDSACurveTypeP384, ECDSACurveTypeP521}

type PrivateKeyOption struct {
	KeyType   PrivateKeyType `json:"key_type"`   // Type of the private key. RSA or ECDSA.
	BitLength int            `json:"bit_length"` // Modulus size of an RSA key.
	CurveType ECDSACurveType `json:"curve_type"` // Curve of an ECDSA key.
}

func (o PrivateKeyOption) String() string {
	switch o.KeyType {
	case PrivateKeyTypeRSA:
		return fmt.Sprintf("RSA-%d", o.BitLength)
	case PrivateKeyTypeECDSA:
		return fmt.Sprintf("ECDSA-%s", o.CurveType)
	}
	return string(o.KeyType)
}

// KeyPair is an asymmetric key pair. The private half is only reachable through Signer and
// the explicit export in MarshalPrivateKey; printing or JSON-encoding a KeyPair never
// reveals it.
type KeyPair struct {
	option  PrivateKeyOption
	public  crypto.PublicKey
	private crypto.Signer
}

// CreatePrivateKey generates a key pair under DefaultPolicy using crypto/rand.
func CreatePrivateKey(option PrivateKeyOption) (*KeyPair, error) {
	return CreatePrivateKeyWithPolicy(option, DefaultPolicy(), rand.Reader)
}

// CreatePrivateKeyWithPolicy generates a key pair from the given entropy source.
// A failing entropy source yields ErrEntropyUnavailable; the key is never generated from a
// degraded source.
func CreatePrivateKeyWithPolicy(option PrivateKeyOption, policy Policy, entropy io.Reader) (*KeyPair, error) {
	if err := checkKeyOption(option, policy); err != nil {
		return nil, err
	}
	if entropy == nil {
		return nil, fmt.Errorf("%w: no entropy source", ErrEntropyUnavailable)
	}

	probe := make([]byte, 32)
	if _, err := io.ReadFull(entropy, probe); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntropyUnavailable, err.Error())
	}

	var signer crypto.Signer
	switch option.KeyType {
	case PrivateKeyTypeRSA:
		key, err := rsa.GenerateKey(entropy, option.BitLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrEntropyUnavailable, err.Error())
		}
		signer = key
	case PrivateKeyTypeECDSA:
		key, err := ecdsa.GenerateKey(curveOf(option.CurveType), entropy)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrEntropyUnavailable, err.Error())
		}
		signer = key
	}

	return &KeyPair{option: option, public: signer.Public(), private: signer}, nil
}

func checkKeyOption(option PrivateKeyOption, policy Policy) error {
	switch option.KeyType {
	case PrivateKeyTypeRSA:
		minBits := max(policy.MinRSABits, MinimumRSABits)
		if option.BitLength < minBits {
			return fmt.Errorf("%w: RSA bit length %d is below %d", ErrWeakKey, option.BitLength, minBits)
		}
		if option.BitLength > maxRSABits {
			return fmt.Errorf("%w: RSA bit length %d exceeds %d", ErrInvalidParameter, option.BitLength, maxRSABits)
		}
	case PrivateKeyTypeECDSA:
		if curveOf(option.CurveType) == nil || !policy.curveApproved(option.CurveType) {
			return fmt.Errorf("%w: curve %q is not approved", ErrWeakKey, option.CurveType)
		}
	default:
		return fmt.Errorf("%w: unsupported key type %q", ErrInvalidParameter, option.KeyType)
	}
	return nil
}

func curveOf(curve ECDSACurveType) elliptic.Curve {
	switch curve {
	case ECDSACurveTypeP256:
		return elliptic.P256()
	case ECDSACurveTypeP384:
		return elliptic.P384()
	case ECDSACurveTypeP521:
		return elliptic.P521()
	}
	return nil
}

// NewKeyPair wraps a caller-loaded private key. If pub is not nil it must be the public half
// of key, otherwise ErrKeyMismatch is returned.
func NewKeyPair(key crypto.Signer, pub crypto.PublicKey) (*KeyPair, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidParameter)
	}
	if pub == nil {
		pub = key.Public()
	}
	if !IsPublicKeyOf(key, pub) {
		return nil, ErrKeyMismatch
	}

	var option PrivateKeyOption
	switch k := key.(type) {
	case *rsa.PrivateKey:
		option = PrivateKeyOption{KeyType: PrivateKeyTypeRSA, BitLength: k.N.BitLen()}
	case *ecdsa.PrivateKey:
		option = PrivateKeyOption{KeyType: PrivateKeyTypeECDSA, CurveType: ECDSACurveType(k.Curve.Params().Name)}
	default:
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrInvalidParameter, key)
	}

	return &KeyPair{option: option, public: pub, private: key}, nil
}

// IsPublicKeyOf reports whether pubKey is the public half of privKey.
func IsPublicKeyOf(privKey interface{}, pubKey interface{}) bool {
	priv, ok := privKey.(interface{ Public() crypto.PublicKey })
	if !ok {
		return false
	}
	pub, ok := priv.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok {
		return false
	}
	return pub.Equal(pubKey)
}

func (k *KeyPair) Option() PrivateKeyOption  { return k.option }
func (k *KeyPair) Algorithm() PrivateKeyType { return k.option.KeyType }
func (k *KeyPair) Public() crypto.PublicKey  { return k.public }
func (k *KeyPair) Signer() crypto.Signer     { return k.private }

// Check verifies that the public key still corresponds to the private key.
func (k *KeyPair) Check() error {
	if k == nil || k.private == nil {
		return fmt.Errorf("%w: empty key pair", ErrInvalidParameter)
	}
	if !IsPublicKeyOf(k.private, k.public) {
		return ErrKeyMismatch
	}
	return nil
}

func (k *KeyPair) String() string {
	if k == nil {
		return "<nil key pair>"
	}
	return fmt.Sprintf("%s key pair (private key redacted)", k.option)
}

func (k *KeyPair) GoString() string {
	return k.String()
}

func (k *KeyPair) MarshalJSON() ([]byte, error) {
	return nil, errors.New("key pair must be exported with MarshalPrivateKey")
}
