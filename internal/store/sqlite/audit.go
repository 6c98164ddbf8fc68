package sqlite

import (
	"context"
	"database/sql"

	"github.com/sundayezeilo/golinks/internal/audit"
)

const auditColumns = `id, user_id, link_id, action, details, ip_address, user_agent, created_at`

// AuditStore is the SQLite audit.Repository.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an AuditStore.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

func scanAudit(row rowScanner) (audit.Log, error) {
	var (
		rec       audit.Log
		linkID    sql.NullInt64
		action    string
		details   sql.NullString
		ip        sql.NullString
		userAgent sql.NullString
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.ActorID, &linkID, &action, &details, &ip, &userAgent, &createdAt); err != nil {
		return audit.Log{}, err
	}

	created, err := parseTime(createdAt, "created_at")
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
	const op = "store.sqlite.InsertAudit"

	var linkID sql.NullInt64
	if e.LinkID != nil {
		linkID = sql.NullInt64{Int64: *e.LinkID, Valid: true}
	}

	rec, err := scanAudit(s.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (user_id, link_id, action, details, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+auditColumns,
		e.ActorID, linkID, string(e.Action),
		nullString(e.Detail), nullString(e.Requester.IP), nullString(e.Requester.UserAgent), now(),
	))
	if err != nil {
		return audit.Log{}, mapRepoError(op, err)
	}
	return rec, nil
}

func (s *AuditStore) ListByLink(ctx context.Context, linkID int64, skip, limit int) ([]audit.Log, error) {
	return s.list(ctx, "store.sqlite.ListAuditByLink", "link_id", linkID, skip, limit)
}

func (s *AuditStore) ListByActor(ctx context.Context, actorID int64, skip, limit int) ([]audit.Log, error) {
	return s.list(ctx, "store.sqlite.ListAuditByActor", "user_id", actorID, skip, limit)
}

// list is only called with fixed column names. Ids grow with insertion
// order, so they break ties between records written in the same instant.
func (s *AuditStore) list(ctx context.Context, op, column string, id int64, skip, limit int) ([]audit.Log, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+` FROM audit_logs
		WHERE `+column+` = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, id, limit, skip)
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
