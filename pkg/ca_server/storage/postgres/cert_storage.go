package postgres

import (
	"context"
	"fmt"

	"github.com/openebl/localca/pkg/ca_server/model"
	"github.com/openebl/localca/pkg/ca_server/storage"
)

func (s *_Storage) AddCertificate(ctx context.Context, tx storage.Tx, cert model.Cert) error {
	// A stored certificate only moves to its next version and keeps its type. The history row
	// is written from the upsert, so a rejected update writes nothing.
	query := `
WITH upserted AS (
	INSERT INTO cert (id, version, type, status, created_at, updated_at, cert)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO UPDATE SET
		version = excluded.version,
		status = excluded.status,
		updated_at = excluded.updated_at,
		cert = excluded.cert
	WHERE cert.version = excluded.version - 1 AND cert.type = excluded.type
	RETURNING id, version, updated_at, cert
)
INSERT INTO cert_history (id, version, created_at, cert)
SELECT id, version, updated_at, cert FROM upserted
`
	result, err := tx.Exec(
		ctx,
		query,
		cert.ID,
		cert.Version,
		cert.Type,
		cert.Status,
		cert.CreatedAt,
		max(cert.CreatedAt, cert.RejectedAt, cert.IssuedAt),
		cert,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s version %d: %w", cert.ID, cert.Version, model.ErrVersionConflict)
	}
	return nil
}

func (s *_Storage) ListCertificates(ctx context.Context, tx storage.Tx, req storage.ListCertificatesRequest) (storage.ListCertificatesResponse, error) {
	query := `
WITH filtered AS (
	SELECT rec_id, "cert" FROM "cert"
	WHERE
		(COALESCE(ARRAY_LENGTH($3::TEXT[], 1), 0) = 0 OR id = ANY($3)) AND
		(COALESCE(ARRAY_LENGTH($4::TEXT[], 1), 0) = 0 OR status = ANY($4)) AND
		(COALESCE(ARRAY_LENGTH($5::TEXT[], 1), 0) = 0 OR type = ANY($5)) AND
		(COALESCE(ARRAY_LENGTH($6::TEXT[], 1), 0) = 0 OR "cert"->>'issuer_cert_id' = ANY($6)) AND
		($7::BIGINT = 0 OR (
			("cert"->>'not_before')::BIGINT <= $7 AND
			$7 <= ("cert"->>'not_after')::BIGINT
		))
)
, paged AS (
	SELECT rec_id, "cert" FROM filtered
	ORDER BY rec_id ASC
	OFFSET $1 LIMIT $2
)
, total AS (
	SELECT COUNT(*) AS total FROM filtered
)
SELECT total, p."cert" FROM paged AS p FULL JOIN total ON FALSE
ORDER BY p.rec_id ASC NULLS FIRST
`
	rows, err := tx.Query(
		ctx,
		query,
		req.Offset,
		req.Limit,
		req.IDs,
		req.Statuses,
		req.Types,
		req.IssuerCertIDs,
		req.ValidAt,
	)
	if err != nil {
		return storage.ListCertificatesResponse{}, err
	}
	defer rows.Close()

	result := storage.ListCertificatesResponse{}
	for rows.Next() {
		var total *int64
		var cert *model.Cert
		if err := rows.Scan(&total, &cert); err != nil {
			return storage.ListCertificatesResponse{}, err
		}
		if total != nil {
			result.Total = *total
		}
		if cert != nil {
			result.Certs = append(result.Certs, *cert)
		}
	}
	if err := rows.Err(); err != nil {
		return storage.ListCertificatesResponse{}, err
	}

	return result, nil
}
