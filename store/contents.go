package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/chenz/idxscan/digest"
)

// ContentRecord is one distinct byte-sequence ever observed, keyed by
// (Size, SHA256). The digest fields are write-once; only MIME and the
// thumbnail are refreshed in place.
type ContentRecord struct {
	ID            int64
	Size          int64
	MIME          string
	SHA1          string
	SHA224        string
	SHA256        string
	SHA384        string
	SHA512        string
	MD5           string
	CRC32         string
	Header        []byte
	Footer        []byte
	ThumbnailMIME string
	Thumbnail     []byte
}

const contentColumns = `id, size, mime, sha1, sha224, sha256, sha384, sha512, md5, crc32, header, footer, thumbnail_mime, thumbnail`

func scanContentRecord(row *sql.Row) (*ContentRecord, error) {
	var rec ContentRecord
	err := row.Scan(
		&rec.ID, &rec.Size, &rec.MIME,
		&rec.SHA1, &rec.SHA224, &rec.SHA256, &rec.SHA384, &rec.SHA512,
		&rec.MD5, &rec.CRC32,
		&rec.Header, &rec.Footer,
		&rec.ThumbnailMIME, &rec.Thumbnail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadContent fetches a content record by its identity key.
func (s *Store) LoadContent(ctx context.Context, size int64, sha256 string) (*ContentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE size = ? AND sha256 = ?`,
		size, sha256)
	return scanContentRecord(row)
}

// CreateOrLoadContent inserts a content record for the given digests, or
// loads the existing record with the same (size, sha256) identity. First
// writer wins for the digest fields; content with a matching identity is
// treated as byte-identical without comparison.
func (s *Store) CreateOrLoadContent(ctx context.Context, sums *digest.Sums) (*ContentRecord, bool, error) {
	insert := `
		INSERT INTO contents (size, sha1, sha224, sha256, sha384, sha512, md5, crc32, header, footer)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(size, sha256) DO NOTHING`
	args := []any{
		sums.Size, sums.SHA1, sums.SHA224, sums.SHA256, sums.SHA384,
		sums.SHA512, sums.MD5, sums.CRC32, sums.Header, sums.Footer,
	}
	return createOrLoad(ctx, s.db, insert, args, func(ctx context.Context) (*ContentRecord, error) {
		return s.LoadContent(ctx, sums.Size, sums.SHA256)
	})
}

// UpdateContentDescriptive refreshes the mutable fields of a content record.
// The identity and digest columns are never touched here.
func (s *Store) UpdateContentDescriptive(ctx context.Context, id int64, mime, thumbnailMIME string, thumbnail []byte) error {
	return s.execOne(ctx,
		`UPDATE contents SET mime = ?, thumbnail_mime = ?, thumbnail = ? WHERE id = ?`,
		mime, thumbnailMIME, thumbnail, id)
}

// ContentsByDigest looks up content records through the secondary sha256
// index. More than one row is possible only if equal digests were recorded at
// different sizes.
func (s *Store) ContentsByDigest(ctx context.Context, sha256 string) ([]ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE sha256 = ? ORDER BY size`, sha256)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ContentRecord
	for rows.Next() {
		var rec ContentRecord
		if err := rows.Scan(
			&rec.ID, &rec.Size, &rec.MIME,
			&rec.SHA1, &rec.SHA224, &rec.SHA256, &rec.SHA384, &rec.SHA512,
			&rec.MD5, &rec.CRC32,
			&rec.Header, &rec.Footer,
			&rec.ThumbnailMIME, &rec.Thumbnail,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ContentCount reports the number of distinct byte-sequences in the catalog.
func (s *Store) ContentCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contents`).Scan(&n)
	return n, err
}
