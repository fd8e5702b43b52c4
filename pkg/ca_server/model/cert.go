package model

type CertStatus string
type CertType string

const (
	CertStatusActive           CertStatus = "active"
	CertStatusWaitingForIssued CertStatus = "waiting_for_issued"
	CertStatusRejected         CertStatus = "rejected"

	RootCert   CertType = "root"
	ServerCert CertType = "server"
)

type Cert struct {
	ID      string     `json:"id"`      // Unique ID of the certificate.
	Version int64      `json:"version"` // Version of the certificate record. Bumped on every change.
	Type    CertType   `json:"type"`    // Type of the certificate.
	Status  CertStatus `json:"status"`  // Status of the certificate.

	NotBefore int64 `json:"not_before"` // Unix Time (in second) when the certificate becomes valid.
	NotAfter  int64 `json:"not_after"`  // Unix Time (in second) when the certificate becomes invalid.

	IssuedSerialNumber int64 `json:"issued_serial_number"` // Last serial number issued by a root certificate.

	CreatedAt  int64  `json:"created_at"`  // Unix Time (in second) when the certificate was created.
	CreatedBy  string `json:"created_by"`  // User who created the certificate.
	IssuedAt   int64  `json:"issued_at"`   // Unix Time (in second) when the certificate was issued.
	IssuedBy   string `json:"issued_by"`   // User who issued the certificate.
	RejectedAt int64  `json:"rejected_at"` // Unix Time (in second) when the certificate signing request was rejected.
	RejectedBy string `json:"rejected_by"` // User who rejected the certificate signing request.

	PrivateKey                string `json:"private_key,omitempty"`       // Encrypted PEM private key. Never returned to API callers.
	PublicKeyID               string `json:"public_key_id"`               // Subject key identifier, hex encoded.
	IssuerKeyID               string `json:"issuer_key_id"`               // Authority key identifier, hex encoded.
	IssuerCertID              string `json:"issuer_cert_id"`              // ID of the root certificate that issued this certificate.
	Certificate               string `json:"certificate"`                 // PEM encoded certificate chain. The leaf comes first, the root last.
	CertificateSerialNumber   string `json:"certificate_serial_number"`   // Serial number of the certificate.
	CertificateSigningRequest string `json:"certificate_signing_request"` // PEM encoded certificate signing request (CSR).
	CertFingerPrint           string `json:"cert_fingerprint"`            // Fingerprint of the leaf certificate. The format is [HASH_ALGORITHM]:[FINGERPRINT_HEX_ENCODED].
	RejectReason              string `json:"reject_reason"`               // Reason for rejecting the certificate signing request.
}

// Bundle is the explicit export of a server certificate together with its private key.
type Bundle struct {
	CertID      string `json:"cert_id"`
	Certificate string `json:"certificate"` // PEM chain, leaf first.
	PrivateKey  string `json:"private_key"` // PEM PKCS#8, encrypted when a passphrase was given.
}
