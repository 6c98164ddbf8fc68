package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/internal/links"
)

const linkColumns = `id, short_code, target_url, title, description, is_active, owner_id,
	access_count, created_at, updated_at, last_accessed_at`

// LinkStore is the PostgreSQL links.Repository.
type LinkStore struct {
	db DBTX
}

// NewLinkStore creates a LinkStore.
func NewLinkStore(db DBTX) *LinkStore {
	return &LinkStore{db: db}
}

func scanLink(row pgx.Row) (links.Link, error) {
	var (
		l           links.Link
		description pgtype.Text
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
		accessedAt  pgtype.Timestamptz
	)
	if err := row.Scan(
		&l.ID, &l.ShortCode, &l.TargetURL, &l.Title, &description, &l.IsActive, &l.OwnerID,
		&l.AccessCount, &createdAt, &updatedAt, &accessedAt,
	); err != nil {
		return links.Link{}, err
	}

	created, err := mustTime(createdAt, "created_at")
	if err != nil {
		return links.Link{}, err
	}
	l.CreatedAt = created
	l.Description = textPtr(description)
	l.UpdatedAt = timePtr(updatedAt)
	l.LastAccessedAt = timePtr(accessedAt)
	return l, nil
}

func (s *LinkStore) FindByCode(ctx context.Context, code string) (links.Link, error) {
	const op = "store.postgres.FindByCode"

	l, err := scanLink(s.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE short_code = $1`, code))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) FindByID(ctx context.Context, id int64) (links.Link, error) {
	const op = "store.postgres.FindByID"

	l, err := scanLink(s.db.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = $1`, id))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) Insert(ctx context.Context, link links.Link) (links.Link, error) {
	const op = "store.postgres.Insert"

	var description pgtype.Text
	if link.Description != nil {
		description = pgtype.Text{String: *link.Description, Valid: true}
	}

	l, err := scanLink(s.db.QueryRow(ctx, `
		INSERT INTO links (short_code, target_url, title, description, is_active, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+linkColumns,
		link.ShortCode, link.TargetURL, link.Title, description, link.IsActive, link.OwnerID,
	))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

// Update writes only the fields set in spec and always bumps updated_at.
// An empty description is stored as NULL.
func (s *LinkStore) Update(ctx context.Context, id int64, spec links.UpdateSpec) (links.Link, error) {
	const op = "store.postgres.Update"

	sets := []string{"updated_at = now()"}
	var args []any
	add := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if spec.TargetURL != nil {
		add("target_url", *spec.TargetURL)
	}
	if spec.Title != nil {
		add("title", *spec.Title)
	}
	if spec.Description != nil {
		add("description", nullText(*spec.Description))
	}
	if spec.IsActive != nil {
		add("is_active", *spec.IsActive)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE links SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), linkColumns)

	l, err := scanLink(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) Delete(ctx context.Context, id int64) error {
	const op = "store.postgres.Delete"

	tag, err := s.db.Exec(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return mapRepoError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errx.E(op, errx.NotFound, links.ErrLinkNotFound)
	}
	return nil
}

// Search matches the term case-insensitively against title, description and
// short code. The count and the page are read by separate statements, so a
// concurrent write can make them disagree by a row.
func (s *LinkStore) Search(ctx context.Context, p links.SearchParams) ([]links.Link, int64, error) {
	const op = "store.postgres.Search"

	where := ""
	var args []any
	if p.Term != "" {
		args = append(args, containsPattern(p.Term))
		where = ` WHERE title ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\' OR short_code ILIKE $1 ESCAPE '\'`
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM links`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapRepoError(op, err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM links%s ORDER BY id LIMIT $%d OFFSET $%d`, linkColumns, where, n+1, n+2)
	rows, err := s.db.Query(ctx, query, append(args, p.Limit, p.Skip)...)
	if err != nil {
		return nil, 0, mapRepoError(op, err)
	}
	defer rows.Close()

	var out []links.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, 0, mapRepoError(op, err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapRepoError(op, err)
	}
	return out, total, nil
}

// IncrementAccess bumps the counter in a single statement so concurrent
// resolutions never lose an increment.
func (s *LinkStore) IncrementAccess(ctx context.Context, id int64) (links.Link, error) {
	const op = "store.postgres.IncrementAccess"

	l, err := scanLink(s.db.QueryRow(ctx, `
		UPDATE links
		SET access_count = access_count + 1, last_accessed_at = now()
		WHERE id = $1
		RETURNING `+linkColumns, id))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}
