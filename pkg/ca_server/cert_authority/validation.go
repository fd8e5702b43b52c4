package cert_authority

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/pkix"
)

const maxListLimit = 1000

func ValidateListCertificatesRequest(req storage.ListCertificatesRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Offset, validation.Min(0)),
		validation.Field(&req.Limit, validation.Required, validation.Min(1), validation.Max(maxListLimit)),
		validation.Field(&req.Types, validation.Each(validation.In(model.RootCert, model.ServerCert))),
		validation.Field(&req.Statuses, validation.Each(validation.In(model.CertStatusActive, model.CertStatusWaitingForIssued, model.CertStatusRejected))),
		validation.Field(&req.IssuerCertIDs, validation.Each(validation.Required)),
		validation.Field(&req.ValidAt, validation.Min(int64(0))),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateCreateRootCertificateRequest(req CreateRootCertificateRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.PrivateKeyOption, validation.Required),
		validation.Field(&req.NotAfter, validation.When(req.NotAfter != 0, validation.Min(req.NotBefore+1))),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return validatePrivateKeyOption(req.PrivateKeyOption)
}

func ValidateAddCertificateSigningRequestRequest(req AddCertificateSigningRequestRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.CertSigningRequest, validation.Required),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateCreateServerCertificateRequest(req CreateServerCertificateRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.PrivateKeyOption, validation.Required),
		validation.Field(&req.SubjectAltNames, validation.Required),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return validatePrivateKeyOption(req.PrivateKeyOption)
}

func ValidateIssueCertificateRequest(req IssueCertificateRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.RootCertID, validation.Required),
		validation.Field(&req.CertID, validation.Required),
		validation.Field(&req.NotBefore, validation.Min(int64(0))),
		validation.Field(&req.NotAfter, validation.When(req.NotAfter != 0, validation.Min(req.NotBefore+1))),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateRejectCertificateSigningRequestRequest(req RejectCertificateSigningRequestRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.CertID, validation.Required),
		validation.Field(&req.Reason, validation.Required),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateVerifyCertificateRequest(req VerifyCertificateRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.CertID, validation.Required),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func ValidateExportServerBundleRequest(req ExportServerBundleRequest) error {
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Requester, validation.Required),
		validation.Field(&req.CertID, validation.Required),
		validation.Field(&req.Passphrase, validation.When(req.Passphrase != "", validation.Length(8, 0))),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}

func validatePrivateKeyOption(privateKeyOption pkix.PrivateKeyOption) error {
	if err := validation.ValidateStruct(&privateKeyOption,
		validation.Field(&privateKeyOption.KeyType, validation.Required, validation.In(pkix.PrivateKeyTypeRSA, pkix.PrivateKeyTypeECDSA)),
		validation.Field(&privateKeyOption.BitLength, validation.Required.When(privateKeyOption.KeyType == pkix.PrivateKeyTypeRSA)),
		validation.Field(&privateKeyOption.CurveType, validation.Required.When(privateKeyOption.KeyType == pkix.PrivateKeyTypeECDSA)),
	); err != nil {
		return fmt.Errorf("%s%w", err.Error(), model.ErrInvalidParameter)
	}

	return nil
}
