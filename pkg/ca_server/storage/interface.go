package storage

import (
	"context"
	"database/sql"

	"github.com/openebl/localca/pkg/ca_server/model"
)

type StorageContextKey string

const (
	TRANSACTION StorageContextKey = "transaction"
)

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (Result, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

type Row interface {
	Scan(dest ...any) error
}

type Result interface {
	// RowsAffected returns the number of rows affected by an
	// update, insert, or delete.
	RowsAffected() (int64, error)
}

type CreateTxOption func(*sql.TxOptions)

type TransactionInterface interface {
	CreateTx(ctx context.Context, options ...CreateTxOption) (Tx, context.Context, error)
}

func TxOptionWithWrite(write bool) CreateTxOption {
	return func(option *sql.TxOptions) {
		option.ReadOnly = !write
	}
}

func TxOptionWithIsolationLevel(level sql.IsolationLevel) CreateTxOption {
	return func(option *sql.TxOptions) {
		option.Isolation = level
	}
}

type ListCertificatesRequest struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`

	// Filters
	IDs      []string           `json:"ids"`
	Statuses []model.CertStatus `json:"statuses"`
	Types    []model.CertType   `json:"types"`

	IssuerCertIDs []string `json:"issuer_cert_ids"` // Certificates issued by these root certificates.
	ValidAt       int64    `json:"valid_at"`        // Unix time. Certificates whose validity contains it, bounds included. 0 disables the filter.
}

type ListCertificatesResponse struct {
	Total int64        `json:"total"`
	Certs []model.Cert `json:"certs"`
}

type CertStorage interface {
	TransactionInterface
	// AddCertificate stores a new certificate or the next version of a stored one. Writing any
	// other version of a stored certificate returns model.ErrVersionConflict.
	AddCertificate(ctx context.Context, tx Tx, cert model.Cert) error
	ListCertificates(ctx context.Context, tx Tx, req ListCertificatesRequest) (ListCertificatesResponse, error)
}
