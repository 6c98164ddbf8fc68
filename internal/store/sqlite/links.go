package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sundayezeilo/golinks/internal/errx"
	"github.com/sundayezeilo/golinks/internal/links"
)

const linkColumns = `id, short_code, target_url, title, description, is_active, owner_id,
	access_count, created_at, updated_at, last_accessed_at`

// LinkStore is the SQLite links.Repository.
type LinkStore struct {
	db *sql.DB
}

// NewLinkStore creates a LinkStore.
func NewLinkStore(db *sql.DB) *LinkStore {
	return &LinkStore{db: db}
}

func scanLink(row rowScanner) (links.Link, error) {
	var (
		l           links.Link
		description sql.NullString
		createdAt   string
		updatedAt   sql.NullString
		accessedAt  sql.NullString
	)
	if err := row.Scan(
		&l.ID, &l.ShortCode, &l.TargetURL, &l.Title, &description, &l.IsActive, &l.OwnerID,
		&l.AccessCount, &createdAt, &updatedAt, &accessedAt,
	); err != nil {
		return links.Link{}, err
	}

	var err error
	if l.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return links.Link{}, err
	}
	if l.UpdatedAt, err = parseTimePtr(updatedAt, "updated_at"); err != nil {
		return links.Link{}, err
	}
	if l.LastAccessedAt, err = parseTimePtr(accessedAt, "last_accessed_at"); err != nil {
		return links.Link{}, err
	}
	if description.Valid {
		d := description.String
		l.Description = &d
	}
	return l, nil
}

func (s *LinkStore) FindByCode(ctx context.Context, code string) (links.Link, error) {
	const op = "store.sqlite.FindByCode"

	l, err := scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE short_code = ?`, code))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) FindByID(ctx context.Context, id int64) (links.Link, error) {
	const op = "store.sqlite.FindByID"

	l, err := scanLink(s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE id = ?`, id))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) Insert(ctx context.Context, link links.Link) (links.Link, error) {
	const op = "store.sqlite.Insert"

	var description sql.NullString
	if link.Description != nil {
		description = sql.NullString{String: *link.Description, Valid: true}
	}

	l, err := scanLink(s.db.QueryRowContext(ctx, `
		INSERT INTO links (short_code, target_url, title, description, is_active, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING `+linkColumns,
		link.ShortCode, link.TargetURL, link.Title, description, link.IsActive, link.OwnerID, now(),
	))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) Update(ctx context.Context, id int64, spec links.UpdateSpec) (links.Link, error) {
	const op = "store.sqlite.Update"

	sets := []string{"updated_at = ?"}
	args := []any{now()}
	if spec.TargetURL != nil {
		sets = append(sets, "target_url = ?")
		args = append(args, *spec.TargetURL)
	}
	if spec.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *spec.Title)
	}
	if spec.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*spec.Description))
	}
	if spec.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, *spec.IsActive)
	}
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE links SET %s WHERE id = ? RETURNING %s`, strings.Join(sets, ", "), linkColumns)
	l, err := scanLink(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}

func (s *LinkStore) Delete(ctx context.Context, id int64) error {
	const op = "store.sqlite.Delete"

	res, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE id = ?`, id)
	if err != nil {
		return mapRepoError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapRepoError(op, err)
	}
	if n == 0 {
		return errx.E(op, errx.NotFound, links.ErrLinkNotFound)
	}
	return nil
}

// Search relies on SQLite's LIKE, which folds ASCII letters only; accented
// letters match with their exact case.
func (s *LinkStore) Search(ctx context.Context, p links.SearchParams) ([]links.Link, int64, error) {
	const op = "store.sqlite.Search"

	where := ""
	var args []any
	if p.Term != "" {
		pattern := containsPattern(p.Term)
		where = ` WHERE title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\' OR short_code LIKE ? ESCAPE '\'`
		args = append(args, pattern, pattern, pattern)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM links`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapRepoError(op, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+linkColumns+` FROM links`+where+` ORDER BY id LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Skip)...)
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

func (s *LinkStore) IncrementAccess(ctx context.Context, id int64) (links.Link, error) {
	const op = "store.sqlite.IncrementAccess"

	l, err := scanLink(s.db.QueryRowContext(ctx, `
		UPDATE links
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?
		RETURNING `+linkColumns, now(), id))
	if err != nil {
		return links.Link{}, mapRepoError(op, err)
	}
	return l, nil
}
