package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chenz/idxscan/snapshot"
)

// PathRecord is one cataloged filesystem path. ContentID is set only while
// the path is a regular non-directory whose bytes have been identified;
// ContentError records a failed identification attempt so it is
// distinguishable from "not yet processed".
type PathRecord struct {
	ID           int64
	Path         string
	Meta         snapshot.Snapshot
	ContentID    sql.NullInt64
	ContentError sql.NullString
}

const pathColumns = `id, path, mode, ctime, mtime, size, isdir, islink, ismount, isregular, symlink, content_id, content_error`

func scanPathRecord(row *sql.Row) (*PathRecord, error) {
	var rec PathRecord
	err := row.Scan(
		&rec.ID, &rec.Path,
		&rec.Meta.Mode, &rec.Meta.Ctime, &rec.Meta.Mtime, &rec.Meta.Size,
		&rec.Meta.IsDir, &rec.Meta.IsLink, &rec.Meta.IsMount, &rec.Meta.IsRegular,
		&rec.Meta.Symlink,
		&rec.ContentID, &rec.ContentError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadPath fetches a path record by its unique key.
func (s *Store) LoadPath(ctx context.Context, path string) (*PathRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+pathColumns+` FROM fileinfo WHERE path = ?`, path)
	return scanPathRecord(row)
}

// CreateOrLoadPath inserts a path record with its observed snapshot, or loads
// the existing record when the path is already cataloged. The returned bool
// reports whether this call created the record.
func (s *Store) CreateOrLoadPath(ctx context.Context, path string, meta snapshot.Snapshot) (*PathRecord, bool, error) {
	insert := `
		INSERT INTO fileinfo (path, mode, ctime, mtime, size, isdir, islink, ismount, isregular, symlink)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING`
	args := []any{
		path, meta.Mode, meta.Ctime, meta.Mtime, meta.Size,
		meta.IsDir, meta.IsLink, meta.IsMount, meta.IsRegular, meta.Symlink,
	}
	return createOrLoad(ctx, s.db, insert, args, func(ctx context.Context) (*PathRecord, error) {
		return s.LoadPath(ctx, path)
	})
}

// UpdatePathMeta overwrites the persisted snapshot of one dirty path record.
func (s *Store) UpdatePathMeta(ctx context.Context, id int64, meta snapshot.Snapshot) error {
	return s.execOne(ctx, `
		UPDATE fileinfo
		SET mode = ?, ctime = ?, mtime = ?, size = ?, isdir = ?, islink = ?, ismount = ?, isregular = ?, symlink = ?
		WHERE id = ?`,
		meta.Mode, meta.Ctime, meta.Mtime, meta.Size,
		meta.IsDir, meta.IsLink, meta.IsMount, meta.IsRegular, meta.Symlink,
		id)
}

// SetPathContent attaches a content record to the path and clears any stale
// failure indicator.
func (s *Store) SetPathContent(ctx context.Context, id, contentID int64) error {
	return s.execOne(ctx,
		`UPDATE fileinfo SET content_id = ?, content_error = NULL WHERE id = ?`,
		contentID, id)
}

// ClearPathContent removes the content reference. Directories and special
// nodes never carry one, including a previously-regular path that changed
// kind.
func (s *Store) ClearPathContent(ctx context.Context, id int64) error {
	return s.execOne(ctx,
		`UPDATE fileinfo SET content_id = NULL, content_error = NULL WHERE id = ?`,
		id)
}

// SetPathContentError records a failed content identification for this pass.
func (s *Store) SetPathContentError(ctx context.Context, id int64, msg string) error {
	return s.execOne(ctx,
		`UPDATE fileinfo SET content_id = NULL, content_error = ? WHERE id = ?`,
		msg, id)
}

// PathEntry is the flattened row used to feed the search index: the path
// record joined with its content record's descriptive fields, when present.
type PathEntry struct {
	ID        int64
	Path      string
	Size      int64
	IsDir     bool
	MIME      string
	SHA256    string
	ContentID sql.NullInt64
}

// EachPath streams every cataloged path joined with its content identity.
func (s *Store) EachPath(ctx context.Context, fn func(PathEntry) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.path, f.size, f.isdir, f.content_id,
		       COALESCE(c.mime, ''), COALESCE(c.sha256, '')
		FROM fileinfo f
		LEFT JOIN contents c ON c.id = f.content_id
		ORDER BY f.path`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var e PathEntry
		if err := rows.Scan(&e.ID, &e.Path, &e.Size, &e.IsDir, &e.ContentID, &e.MIME, &e.SHA256); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PathsByContent returns every path referencing the given content record, in
// path order.
func (s *Store) PathsByContent(ctx context.Context, contentID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM fileinfo WHERE content_id = ? ORDER BY path`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
