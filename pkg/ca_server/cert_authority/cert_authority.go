package cert_authority

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	otlp_util "github.com/bluexlab/otlp-util-go"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/pkix"
	"github.com/openebl/localca/pkg/util"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type CertAuthority interface {
	ListCertificate(ctx context.Context, req storage.ListCertificatesRequest) (storage.ListCertificatesResponse, error)

	// CreateRootCertificate generates a key pair and a self-signed root certificate.
	// The private key never leaves the server.
	CreateRootCertificate(ctx context.Context, ts int64, req CreateRootCertificateRequest) (model.Cert, error)

	// Certificate Signing Request (CSR) operations.
	// AddCertificateSigningRequest stores a CSR generated by the requester.
	AddCertificateSigningRequest(ctx context.Context, ts int64, req AddCertificateSigningRequestRequest) (model.Cert, error)
	// CreateServerCertificate generates the key pair and the CSR on behalf of the requester.
	// The key can be fetched later with ExportServerBundle.
	CreateServerCertificate(ctx context.Context, ts int64, req CreateServerCertificateRequest) (model.Cert, error)
	IssueCertificate(ctx context.Context, ts int64, req IssueCertificateRequest) (model.Cert, error)
	RejectCertificateSigningRequest(ctx context.Context, ts int64, req RejectCertificateSigningRequestRequest) (model.Cert, error)

	// VerifyCertificate checks a stored certificate against the root that issued it.
	VerifyCertificate(ctx context.Context, ts int64, req VerifyCertificateRequest) (pkix.VerificationResult, error)
	// ExportServerBundle returns the certificate chain and the private key of a server certificate.
	ExportServerBundle(ctx context.Context, ts int64, req ExportServerBundleRequest) (model.Bundle, error)
}

type CreateRootCertificateRequest struct {
	Requester string `json:"requester"` // Who makes the request.

	PrivateKeyOption pkix.PrivateKeyOption `json:"private_key_option"` // Option of the private key.
	Subject          pkix.Subject          `json:"subject"`            // Subject of the certificate.

	NotBefore int64 `json:"not_before"` // Optional. Unix Time (in second). Defaults to the request time.
	NotAfter  int64 `json:"not_after"`  // Optional. Unix Time (in second). Defaults to NotBefore plus the default root lifetime.
}

type AddCertificateSigningRequestRequest struct {
	Requester          string `json:"requester"`            // Who makes the request.
	CertSigningRequest string `json:"cert_signing_request"` // PEM encoded certificate signing request (CSR).
}

type CreateServerCertificateRequest struct {
	Requester string `json:"requester"` // Who makes the request.

	PrivateKeyOption pkix.PrivateKeyOption `json:"private_key_option"` // Option of the private key.
	Subject          pkix.Subject          `json:"subject"`            // Subject of the certificate.
	SubjectAltNames  []string              `json:"subject_alt_names"`  // "DNS:name" or "IP:address" entries.
	ExtKeyUsages     []pkix.ExtKeyUsage    `json:"ext_key_usages"`     // Optional. Requested extended key usages.
}

type IssueCertificateRequest struct {
	Requester  string `json:"requester"`    // Who makes the request.
	RootCertID string `json:"root_cert_id"` // ID of the root certificate.
	CertID     string `json:"cert_id"`      // ID of the certificate to be issued.
	NotBefore  int64  `json:"not_before"`   // Optional. Unix Time (in second). Defaults to the request time.
	NotAfter   int64  `json:"not_after"`    // Optional. Unix Time (in second). Defaults to NotBefore plus the default leaf lifetime.
}

type RejectCertificateSigningRequestRequest struct {
	Requester string `json:"requester"` // Who makes the request.
	CertID    string `json:"cert_id"`   // ID of the certificate to be rejected.
	Reason    string `json:"reason"`    // Reason of the rejection.
}

type VerifyCertificateRequest struct {
	CertID   string `json:"cert_id"`  // ID of the certificate to be verified.
	Hostname string `json:"hostname"` // Optional. DNS name or IP address the certificate must cover.
}

type ExportServerBundleRequest struct {
	Requester  string `json:"requester"`  // Who makes the request.
	CertID     string `json:"cert_id"`    // ID of the server certificate.
	Passphrase string `json:"passphrase"` // Optional. Encrypts the exported private key.
}

type CertAuthorityOption func(*_CertAuthority)

// CertAuthorityWithPolicy sets the issuance policy. The default is pkix.DefaultPolicy.
func CertAuthorityWithPolicy(policy pkix.Policy) CertAuthorityOption {
	return func(ca *_CertAuthority) {
		ca.policy = policy
	}
}

// CertAuthorityWithKeyPassphrase sets the passphrase protecting private keys at rest.
func CertAuthorityWithKeyPassphrase(passphrase string) CertAuthorityOption {
	return func(ca *_CertAuthority) {
		ca.keyPassphrase = []byte(passphrase)
	}
}

type _CertAuthority struct {
	certStorage   storage.CertStorage
	policy        pkix.Policy
	keyPassphrase []byte

	issuedCount   metric.Int64Counter
	exportedCount metric.Int64Counter
}

func NewCertAuthority(certStorage storage.CertStorage, options ...CertAuthorityOption) *_CertAuthority {
	ca := &_CertAuthority{
		certStorage:   certStorage,
		policy:        pkix.DefaultPolicy(),
		issuedCount:   otlp_util.NewInt64Counter("ca_server.cert.issued.count", metric.WithDescription("The total number of certificates issued")),
		exportedCount: otlp_util.NewInt64Counter("ca_server.bundle.exported.count", metric.WithDescription("The total number of server bundles exported")),
	}
	for _, opt := range options {
		opt(ca)
	}
	if len(ca.keyPassphrase) == 0 {
		logrus.Warn("No key passphrase configured. Private keys are stored unencrypted.")
	}
	return ca
}

func (ca *_CertAuthority) ListCertificate(ctx context.Context, req storage.ListCertificatesRequest) (storage.ListCertificatesResponse, error) {
	if err := ValidateListCertificatesRequest(req); err != nil {
		return storage.ListCertificatesResponse{}, err
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx)
	if err != nil {
		return storage.ListCertificatesResponse{}, err
	}
	defer tx.Rollback(ctx)

	result, err := ca.certStorage.ListCertificates(ctx, tx, req)
	if err != nil {
		return storage.ListCertificatesResponse{}, err
	}
	for i := range result.Certs {
		result.Certs[i].PrivateKey = "" // Do not return the private key.
	}
	return result, nil
}

func (ca *_CertAuthority) CreateRootCertificate(ctx context.Context, ts int64, req CreateRootCertificateRequest) (model.Cert, error) {
	ctx, span := otlp_util.Start(ctx, "ca_server/cert_authority.CreateRootCertificate")
	defer span.End()

	if err := ValidateCreateRootCertificateRequest(req); err != nil {
		return model.Cert{}, err
	}

	keyPair, err := pkix.CreatePrivateKeyWithPolicy(req.PrivateKeyOption, ca.policy, rand.Reader)
	if err != nil {
		return model.Cert{}, err
	}
	validity := requestedValidity(ts, req.NotBefore, req.NotAfter, min(pkix.DefaultRootLifetime, ca.policy.MaxRootLifetime))
	rootCert, err := pkix.IssueRootCertificate(keyPair, req.Subject, validity, ca.policy, nil)
	if err != nil {
		return model.Cert{}, err
	}
	certPEM, err := pkix.EncodeCertificates(rootCert)
	if err != nil {
		return model.Cert{}, err
	}
	privKeyPEM, err := pkix.MarshalPrivateKey(keyPair, ca.keyPassphrase)
	if err != nil {
		return model.Cert{}, err
	}

	rootX509 := *rootCert.X509()
	cert := model.Cert{
		ID:                      util.NewUUID(),
		Version:                 1,
		Type:                    model.RootCert,
		Status:                  model.CertStatusActive,
		CreatedBy:               req.Requester,
		CreatedAt:               ts,
		NotBefore:               rootCert.Validity.NotBefore.Unix(),
		NotAfter:                rootCert.Validity.NotAfter.Unix(),
		PrivateKey:              privKeyPEM,
		PublicKeyID:             pkix.GetSubjectKeyIDFromCertificate(rootX509),
		IssuerKeyID:             pkix.GetAuthorityKeyIDFromCertificate(rootX509),
		Certificate:             certPEM,
		CertFingerPrint:         pkix.GetFingerPrintFromCertificate(rootX509),
		CertificateSerialNumber: rootCert.SerialNumber.String(),
	}
	cert.IssuerCertID = cert.ID
	span.SetAttributes(attribute.String("cert_id", cert.ID))

	tx, ctx, err := ca.certStorage.CreateTx(ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	if err != nil {
		return model.Cert{}, err
	}
	defer tx.Rollback(ctx)

	if err := ca.certStorage.AddCertificate(ctx, tx, cert); err != nil {
		return model.Cert{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cert{}, err
	}
	logrus.Infof("Root certificate %s (%s) created by %s", cert.ID, rootCert.Subject.CommonName, req.Requester)

	cert.PrivateKey = "" // Do not return the private key.
	return cert, nil
}

func (ca *_CertAuthority) AddCertificateSigningRequest(ctx context.Context, ts int64, req AddCertificateSigningRequestRequest) (model.Cert, error) {
	if err := ValidateAddCertificateSigningRequestRequest(req); err != nil {
		return model.Cert{}, err
	}

	csr, err := pkix.ParseCertificateRequest([]byte(req.CertSigningRequest))
	if err != nil {
		return model.Cert{}, err
	}
	if err := csr.CheckProofOfPossession(); err != nil {
		return model.Cert{}, err
	}
	if _, err := pkix.BuildSubject(csr.Subject); err != nil {
		return model.Cert{}, err
	}
	if _, err := pkix.BuildSANList(csr.RequestedExtensions.SubjectAltNames); err != nil {
		return model.Cert{}, err
	}

	cert := model.Cert{
		ID:                        util.NewUUID(),
		Version:                   1,
		Type:                      model.ServerCert,
		Status:                    model.CertStatusWaitingForIssued,
		CreatedBy:                 req.Requester,
		CreatedAt:                 ts,
		PublicKeyID:               pkix.GetPublicKeyID(csr.PublicKey),
		CertificateSigningRequest: req.CertSigningRequest,
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	if err != nil {
		return model.Cert{}, err
	}
	defer tx.Rollback(ctx)

	if err := ca.certStorage.AddCertificate(ctx, tx, cert); err != nil {
		return model.Cert{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cert{}, err
	}

	cert.PrivateKey = "" // Do not return the private key.
	return cert, nil
}

func (ca *_CertAuthority) CreateServerCertificate(ctx context.Context, ts int64, req CreateServerCertificateRequest) (model.Cert, error) {
	if err := ValidateCreateServerCertificateRequest(req); err != nil {
		return model.Cert{}, err
	}

	sans, err := pkix.ParseSANList(req.SubjectAltNames)
	if err != nil {
		return model.Cert{}, err
	}
	keyPair, err := pkix.CreatePrivateKeyWithPolicy(req.PrivateKeyOption, ca.policy, rand.Reader)
	if err != nil {
		return model.Cert{}, err
	}
	var csrOptions []pkix.CSROption
	if len(req.ExtKeyUsages) > 0 {
		csrOptions = append(csrOptions, pkix.WithExtKeyUsage(req.ExtKeyUsages...))
	}
	csr, err := pkix.CreateCertificateSigningRequest(keyPair, req.Subject, sans, csrOptions...)
	if err != nil {
		return model.Cert{}, err
	}
	csrPEM, err := pkix.MarshalCertificateRequest(csr)
	if err != nil {
		return model.Cert{}, err
	}
	privKeyPEM, err := pkix.MarshalPrivateKey(keyPair, ca.keyPassphrase)
	if err != nil {
		return model.Cert{}, err
	}

	cert := model.Cert{
		ID:                        util.NewUUID(),
		Version:                   1,
		Type:                      model.ServerCert,
		Status:                    model.CertStatusWaitingForIssued,
		CreatedBy:                 req.Requester,
		CreatedAt:                 ts,
		PrivateKey:                privKeyPEM,
		PublicKeyID:               pkix.GetPublicKeyID(keyPair.Public()),
		CertificateSigningRequest: csrPEM,
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	if err != nil {
		return model.Cert{}, err
	}
	defer tx.Rollback(ctx)

	if err := ca.certStorage.AddCertificate(ctx, tx, cert); err != nil {
		return model.Cert{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cert{}, err
	}

	cert.PrivateKey = "" // Do not return the private key.
	return cert, nil
}

func (ca *_CertAuthority) IssueCertificate(ctx context.Context, ts int64, req IssueCertificateRequest) (model.Cert, error) {
	ctx, span := otlp_util.Start(ctx, "ca_server/cert_authority.IssueCertificate",
		trace.WithAttributes(attribute.String("root_cert_id", req.RootCertID), attribute.String("cert_id", req.CertID)),
	)
	defer span.End()

	if err := ValidateIssueCertificateRequest(req); err != nil {
		return model.Cert{}, err
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	if err != nil {
		return model.Cert{}, err
	}
	defer tx.Rollback(ctx)

	rootCert, err := ca.getCert(ctx, tx, req.RootCertID, []model.CertType{model.RootCert})
	if err != nil {
		return model.Cert{}, fmt.Errorf("root certificate %s: %w", req.RootCertID, err)
	}
	if rootCert.Status != model.CertStatusActive {
		return model.Cert{}, fmt.Errorf("root certificate %s is not active %w", req.RootCertID, model.ErrWrongStatus)
	}
	rootKey, err := pkix.ParsePrivateKey([]byte(rootCert.PrivateKey), ca.keyPassphrase)
	if err != nil {
		return model.Cert{}, fmt.Errorf("load private key of root certificate %s: %v", req.RootCertID, err)
	}
	rootCertificate, err := leafOf(rootCert)
	if err != nil {
		return model.Cert{}, err
	}

	cert, err := ca.getCert(ctx, tx, req.CertID, []model.CertType{model.ServerCert})
	if err != nil {
		return model.Cert{}, err
	}
	if cert.Status != model.CertStatusWaitingForIssued {
		return model.Cert{}, fmt.Errorf("certificate %s is not waiting for issued %w", req.CertID, model.ErrWrongStatus)
	}
	csr, err := pkix.ParseCertificateRequest([]byte(cert.CertificateSigningRequest))
	if err != nil {
		return model.Cert{}, err
	}

	serials := pkix.NewCounterSerialAllocator(uint64(rootCert.IssuedSerialNumber))
	issuer, err := pkix.NewIssuer(rootKey, rootCertificate, serials)
	if err != nil {
		return model.Cert{}, err
	}
	validity := requestedValidity(ts, req.NotBefore, req.NotAfter, min(pkix.DefaultLeafLifetime, ca.policy.MaxLeafLifetime))
	leafCert, err := issuer.Sign(csr, ca.policy, validity)
	if err != nil {
		return model.Cert{}, err
	}
	certPEM, err := pkix.EncodeCertificates(leafCert, rootCertificate)
	if err != nil {
		return model.Cert{}, err
	}

	rootCert.Version += 1
	rootCert.IssuedSerialNumber = int64(serials.Last())

	leafX509 := *leafCert.X509()
	cert.Version += 1
	cert.Status = model.CertStatusActive
	cert.IssuedAt = ts
	cert.IssuedBy = req.Requester
	cert.NotBefore = leafCert.Validity.NotBefore.Unix()
	cert.NotAfter = leafCert.Validity.NotAfter.Unix()
	cert.PublicKeyID = pkix.GetSubjectKeyIDFromCertificate(leafX509)
	cert.IssuerKeyID = pkix.GetAuthorityKeyIDFromCertificate(leafX509)
	cert.IssuerCertID = rootCert.ID
	cert.Certificate = certPEM
	cert.CertFingerPrint = pkix.GetFingerPrintFromCertificate(leafX509)
	cert.CertificateSerialNumber = leafCert.SerialNumber.String()

	if err := ca.certStorage.AddCertificate(ctx, tx, rootCert); err != nil {
		return model.Cert{}, err
	}
	if err := ca.certStorage.AddCertificate(ctx, tx, cert); err != nil {
		return model.Cert{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cert{}, err
	}
	ca.issuedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("root_cert_id", rootCert.ID)))
	logrus.Infof("Certificate %s (serial %s) issued by root %s for %s", cert.ID, cert.CertificateSerialNumber, rootCert.ID, req.Requester)

	cert.PrivateKey = "" // Do not return the private key.
	return cert, nil
}

func (ca *_CertAuthority) RejectCertificateSigningRequest(ctx context.Context, ts int64, req RejectCertificateSigningRequestRequest) (model.Cert, error) {
	if err := ValidateRejectCertificateSigningRequestRequest(req); err != nil {
		return model.Cert{}, err
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	if err != nil {
		return model.Cert{}, err
	}
	defer tx.Rollback(ctx)

	cert, err := ca.getCert(ctx, tx, req.CertID, []model.CertType{model.ServerCert})
	if err != nil {
		return model.Cert{}, err
	}
	if cert.Status != model.CertStatusWaitingForIssued {
		return model.Cert{}, fmt.Errorf("certificate %s is not waiting for issued %w", req.CertID, model.ErrWrongStatus)
	}

	cert.Status = model.CertStatusRejected
	cert.Version += 1
	cert.RejectedAt = ts
	cert.RejectedBy = req.Requester
	cert.RejectReason = req.Reason

	if err := ca.certStorage.AddCertificate(ctx, tx, cert); err != nil {
		return model.Cert{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Cert{}, err
	}

	cert.PrivateKey = "" // Do not return the private key.
	return cert, nil
}

func (ca *_CertAuthority) VerifyCertificate(ctx context.Context, ts int64, req VerifyCertificateRequest) (pkix.VerificationResult, error) {
	if err := ValidateVerifyCertificateRequest(req); err != nil {
		return pkix.VerificationResult{}, err
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx)
	if err != nil {
		return pkix.VerificationResult{}, err
	}
	defer tx.Rollback(ctx)

	cert, err := ca.getCert(ctx, tx, req.CertID, []model.CertType{model.RootCert, model.ServerCert})
	if err != nil {
		return pkix.VerificationResult{}, err
	}
	if cert.Status != model.CertStatusActive {
		return pkix.VerificationResult{}, fmt.Errorf("certificate %s is not issued %w", req.CertID, model.ErrWrongStatus)
	}

	rootCert := cert
	if cert.IssuerCertID != cert.ID {
		rootCert, err = ca.getCert(ctx, tx, cert.IssuerCertID, []model.CertType{model.RootCert})
		if err != nil {
			return pkix.VerificationResult{}, fmt.Errorf("root certificate %s: %w", cert.IssuerCertID, err)
		}
	}

	leaf, err := leafOf(cert)
	if err != nil {
		return pkix.VerificationResult{}, err
	}
	root, err := leafOf(rootCert)
	if err != nil {
		return pkix.VerificationResult{}, err
	}
	return pkix.VerifyChain(leaf, root, pkix.VerifyOptions{Hostname: req.Hostname, At: time.Unix(ts, 0)}), nil
}

func (ca *_CertAuthority) ExportServerBundle(ctx context.Context, ts int64, req ExportServerBundleRequest) (model.Bundle, error) {
	if err := ValidateExportServerBundleRequest(req); err != nil {
		return model.Bundle{}, err
	}

	tx, ctx, err := ca.certStorage.CreateTx(ctx)
	if err != nil {
		return model.Bundle{}, err
	}
	defer tx.Rollback(ctx)

	cert, err := ca.getCert(ctx, tx, req.CertID, []model.CertType{model.ServerCert})
	if err != nil {
		return model.Bundle{}, err
	}
	if cert.Status != model.CertStatusActive {
		return model.Bundle{}, fmt.Errorf("certificate %s is not issued %w", req.CertID, model.ErrWrongStatus)
	}
	if cert.PrivateKey == "" {
		return model.Bundle{}, fmt.Errorf("private key of certificate %s is held by its requester %w", req.CertID, model.ErrInvalidParameter)
	}

	keyPair, err := pkix.ParsePrivateKey([]byte(cert.PrivateKey), ca.keyPassphrase)
	if err != nil {
		return model.Bundle{}, fmt.Errorf("load private key of certificate %s: %v", req.CertID, err)
	}
	privKeyPEM, err := pkix.MarshalPrivateKey(keyPair, []byte(req.Passphrase))
	if err != nil {
		return model.Bundle{}, err
	}

	ca.exportedCount.Add(ctx, 1, metric.WithAttributes(attribute.Bool("encrypted", req.Passphrase != "")))
	logrus.Infof("Bundle of certificate %s exported by %s at %d", cert.ID, req.Requester, ts)
	return model.Bundle{
		CertID:      cert.ID,
		Certificate: cert.Certificate,
		PrivateKey:  privKeyPEM,
	}, nil
}

func (ca *_CertAuthority) getCert(ctx context.Context, tx storage.Tx, certID string, certTypes []model.CertType) (model.Cert, error) {
	req := storage.ListCertificatesRequest{
		IDs:   []string{certID},
		Types: certTypes,
		Limit: 1,
	}

	resp, err := ca.certStorage.ListCertificates(ctx, tx, req)
	if err != nil {
		return model.Cert{}, err
	}

	if len(resp.Certs) == 0 {
		return model.Cert{}, model.ErrCertNotFound
	}

	return resp.Certs[0], nil
}

// leafOf decodes the first certificate of the stored chain.
func leafOf(cert model.Cert) (*pkix.Certificate, error) {
	certs, err := pkix.DecodeCertificates([]byte(cert.Certificate))
	if err != nil {
		return nil, fmt.Errorf("certificate %s: %w", cert.ID, err)
	}
	return certs[0], nil
}

func requestedValidity(ts, notBefore, notAfter int64, defaultLifetime time.Duration) pkix.Validity {
	if notBefore == 0 {
		notBefore = ts
	}
	if notAfter == 0 {
		return pkix.NewValidity(time.Unix(notBefore, 0), defaultLifetime)
	}
	return pkix.Validity{NotBefore: time.Unix(notBefore, 0).UTC(), NotAfter: time.Unix(notAfter, 0).UTC()}
}
