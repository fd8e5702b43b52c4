package pkix

import "errors"

// Caller-input errors. They are recoverable by correcting the input; the wrapping error
// names the offending field.
var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrInvalidSubject    = errors.New("invalid subject")
	ErrInvalidSAN        = errors.New("invalid subject alternative name")
	ErrKeyMismatch       = errors.New("public key does not match private key")
	ErrProofOfPossession = errors.New("certificate request proof of possession failed")
	ErrValidityRange     = errors.New("invalid validity range")
	ErrInvalidPolicy     = errors.New("invalid issuance policy")
)

// Fatal errors. Retrying without changing the environment or the input does not help.
var (
	ErrWeakKey            = errors.New("weak key")
	ErrEntropyUnavailable = errors.New("entropy unavailable")
)
