package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/go-testfixtures/testfixtures/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
	"github.com/openebl/localca/pkg/ca_server/storage/postgres"
	"github.com/openebl/localca/pkg/util"
	"github.com/stretchr/testify/suite"
)

type CertStorageSuite struct {
	suite.Suite

	ctx    context.Context
	pgPool *pgxpool.Pool

	storage storage.CertStorage
}

func TestCertStorage(t *testing.T) {
	if os.Getenv("DATABASE_HOST") == "" {
		t.Skip("DATABASE_HOST is not set")
	}
	suite.Run(t, new(CertStorageSuite))
}

func (s *CertStorageSuite) SetupTest() {
	s.ctx = context.Background()
	dbPort, err := strconv.Atoi(os.Getenv("DATABASE_PORT"))
	if err != nil {
		dbPort = 5432
	}

	config := util.PostgresDatabaseConfig{
		Host:     os.Getenv("DATABASE_HOST"),
		Port:     dbPort,
		Database: os.Getenv("DATABASE_NAME"),
		User:     os.Getenv("DATABASE_USER"),
		Password: os.Getenv("DATABASE_PASSWORD"),
		SSLMode:  "disable",
		PoolSize: 5,
	}

	pool, err := util.NewPostgresDBPool(config)
	s.Require().NoError(err)
	s.pgPool = pool

	for _, tableName := range []string{"cert", "cert_history"} {
		_, err := pool.Exec(context.Background(), fmt.Sprintf(`DELETE FROM %q`, tableName))
		s.Require().NoError(err)
	}

	s.storage = postgres.NewStorageWithPool(pool)
}

func (s *CertStorageSuite) TearDownTest() {
	s.pgPool.Close()
}

func (s *CertStorageSuite) TestAddCertificate() {
	tx, ctx, err := s.storage.CreateTx(s.ctx, storage.TxOptionWithWrite(true), storage.TxOptionWithIsolationLevel(sql.LevelSerializable))
	s.Require().NoError(err)
	defer tx.Rollback(ctx)
	s.Equal(tx, ctx.Value(storage.TRANSACTION))

	cert := model.Cert{
		ID:                        "test-id",
		Version:                   1,
		Type:                      model.ServerCert,
		Status:                    model.CertStatusWaitingForIssued,
		CreatedAt:                 12345,
		CreatedBy:                 "ops",
		CertificateSigningRequest: "csr",
	}

	err = s.storage.AddCertificate(ctx, tx, cert)
	s.Require().NoError(err)

	certV2 := cert
	certV2.Version = 2
	certV2.IssuedAt = 12346
	certV2.IssuedBy = "admin"
	certV2.Status = model.CertStatusActive
	certV2.Certificate = "leaf-pem"

	err = s.storage.AddCertificate(ctx, tx, certV2)
	s.Require().NoError(err)

	var certOnDB model.Cert
	query := `SELECT cert FROM cert WHERE id = $1 AND version = $2 AND type = $3 AND status = $4 AND created_at = $5 AND updated_at = $6`
	row := tx.QueryRow(ctx, query, certV2.ID, certV2.Version, certV2.Type, certV2.Status, certV2.CreatedAt, certV2.IssuedAt)
	s.Require().NoError(row.Scan(&certOnDB))
	s.Equal(certV2, certOnDB)

	query = `SELECT cert FROM cert_history WHERE id = $1 AND version = $2`
	row = tx.QueryRow(ctx, query, cert.ID, cert.Version)
	s.Require().NoError(row.Scan(&certOnDB))
	s.Equal(cert, certOnDB)
	row = tx.QueryRow(ctx, query, certV2.ID, certV2.Version)
	s.Require().NoError(row.Scan(&certOnDB))
	s.Equal(certV2, certOnDB)

	// A stale or skipped version is rejected without touching the stored row.
	stale := certV2
	stale.Status = model.CertStatusRejected
	err = s.storage.AddCertificate(ctx, tx, stale)
	s.Require().ErrorIs(err, model.ErrVersionConflict)
	skipped := certV2
	skipped.Version = 4
	err = s.storage.AddCertificate(ctx, tx, skipped)
	s.Require().ErrorIs(err, model.ErrVersionConflict)

	// The type of a stored certificate can not change.
	retyped := certV2
	retyped.Version = 3
	retyped.Type = model.RootCert
	err = s.storage.AddCertificate(ctx, tx, retyped)
	s.Require().ErrorIs(err, model.ErrVersionConflict)

	query = `SELECT cert FROM cert WHERE id = $1`
	row = tx.QueryRow(ctx, query, cert.ID)
	s.Require().NoError(row.Scan(&certOnDB))
	s.Equal(certV2, certOnDB)

	var historyCount int
	row = tx.QueryRow(ctx, `SELECT COUNT(*) FROM cert_history WHERE id = $1`, cert.ID)
	s.Require().NoError(row.Scan(&historyCount))
	s.Equal(2, historyCount)
}

func (s *CertStorageSuite) TestListCertificates() {
	db := stdlib.OpenDBFromPool(s.pgPool)
	fixtures, err := testfixtures.New(
		testfixtures.Database(db),
		testfixtures.Dialect("postgres"),
		testfixtures.Directory("testdata/cert"),
	)
	s.Require().NoError(err)
	s.Require().NoError(fixtures.Load())

	tx, ctx, err := s.storage.CreateTx(s.ctx)
	s.Require().NoError(err)
	defer tx.Rollback(ctx)

	baseReq := storage.ListCertificatesRequest{
		Limit: 100,
	}

	certsOnDB := make([]model.Cert, 0, 4)
	rows, err := tx.Query(ctx, `SELECT "cert" FROM "cert" ORDER BY rec_id`)
	s.Require().NoError(err)
	for rows.Next() {
		var cert model.Cert
		s.Require().NoError(rows.Scan(&cert))
		certsOnDB = append(certsOnDB, cert)
	}
	s.Require().NoError(rows.Err())
	rows.Close()
	s.Require().Len(certsOnDB, 4)

	// List all certificates.
	result, err := s.storage.ListCertificates(ctx, tx, baseReq)
	s.Require().NoError(err)
	s.EqualValues(len(certsOnDB), result.Total)
	s.EqualValues(certsOnDB, result.Certs)

	// Limit and Offset
	func() {
		req := baseReq
		req.Limit = 1
		req.Offset = 1
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(len(certsOnDB), result.Total)
		s.EqualValues(certsOnDB[1:2], result.Certs)
	}()

	// Filter by ID
	func() {
		req := baseReq
		req.IDs = []string{certsOnDB[0].ID, certsOnDB[1].ID}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(2, result.Total)
		s.EqualValues(certsOnDB[:2], result.Certs)
	}()

	// Filter by Status
	func() {
		req := baseReq
		req.Statuses = []model.CertStatus{model.CertStatusRejected, model.CertStatusWaitingForIssued}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(2, result.Total)
		s.EqualValues(certsOnDB[1:3], result.Certs)
	}()

	// Filter by Type
	func() {
		req := baseReq
		req.Types = []model.CertType{model.RootCert}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(1, result.Total)
		s.EqualValues(certsOnDB[:1], result.Certs)
	}()

	// Filter by issuing root certificate
	func() {
		req := baseReq
		req.IssuerCertIDs = []string{certsOnDB[0].ID}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(1, result.Total)
		s.EqualValues(certsOnDB[3:], result.Certs)
	}()

	// Filter by validity. Both bounds are inclusive.
	func() {
		leaf := certsOnDB[3]
		for _, ts := range []int64{leaf.NotBefore, leaf.NotAfter} {
			req := baseReq
			req.ValidAt = ts
			result, err := s.storage.ListCertificates(ctx, tx, req)
			s.Require().NoError(err)
			s.EqualValues(2, result.Total)
			s.EqualValues([]model.Cert{certsOnDB[0], leaf}, result.Certs)
		}

		req := baseReq
		req.ValidAt = leaf.NotAfter + 1
		req.Types = []model.CertType{model.ServerCert}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(0, result.Total)
		s.Empty(result.Certs)
	}()

	// Nothing matches
	func() {
		req := baseReq
		req.IDs = []string{"missing"}
		result, err := s.storage.ListCertificates(ctx, tx, req)
		s.Require().NoError(err)
		s.EqualValues(0, result.Total)
		s.Empty(result.Certs)
	}()
}
