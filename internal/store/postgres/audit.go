package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sundayezeilo/golinks/internal/audit"
)

const auditColumns = `id, user_id, link_id, action, details, ip_address, user_agent, created_at`

// AuditStore is the PostgreSQL audit.Repository. It only ever inserts and reads.
type AuditStore struct {
	db DBTX
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db DBTX) *AuditStore {
	return &AuditStore{db: db}
}

func scanAudit(row pgx.Row) (audit.Log, error) {
	var (
		rec       audit.Log
		linkID    pgtype.Int8
		action    string
		details   pgtype.Text
		ip        pgtype.Text
		userAgent pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.ActorID, &linkID, &action, &details, &ip, &userAgent, &createdAt); err != nil {
		return audit.Log{}, err
	}

	created, err := mustTime(createdAt, "created_at")
	if err != nil {
		return audit.Log{}, err
	}
	if linkID.Valid {
		id := linkID.Int64
		rec.LinkID = &id
	}
	rec.Action = audit.Action(action)
	rec.Detail = details.String
	rec.IPAddress = ip.String
	rec.UserAgent = userAgent.String
	rec.CreatedAt = created
	return rec, nil
}

func (s *AuditStore) Insert(ctx context.Context, e audit.Entry) (audit.Log, error) {
	const op = "store.postgres.InsertAudit"

	var linkID pgtype.Int8
	if e.LinkID != nil {
		linkID = pgtype.Int8{Int64: *e.LinkID, Valid: true}
	}

	rec, err := scanAudit(s.db.QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, link_id, action, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+auditColumns,
		e.ActorID, linkID, string(e.Action),
		nullText(e.Detail), nullText(e.Requester.IP), nullText(e.Requester.UserAgent),
	))
	if err != nil {
		return audit.Log{}, mapRepoError(op, err)
	}
	return rec, nil
}

func (s *AuditStore) ListByLink(ctx context.Context, linkID int64, skip, limit int) ([]audit.Log, error) {
	return s.list(ctx, "store.postgres.ListAuditByLink", "link_id", linkID, skip, limit)
}

func (s *AuditStore) ListByActor(ctx context.Context, actorID int64, skip, limit int) ([]audit.Log, error) {
	return s.list(ctx, "store.postgres.ListAuditByActor", "user_id", actorID, skip, limit)
}

// list is only called with fixed column names.
func (s *AuditStore) list(ctx context.Context, op, column string, id int64, skip, limit int) ([]audit.Log, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE `+column+` = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, id, limit, skip)
	if err != nil {
		return nil, mapRepoError(op, err)
	}
	defer rows.Close()

	var out []audit.Log
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, mapRepoError(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapRepoError(op, err)
	}
	return out, nil
}
