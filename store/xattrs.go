package store

import "context"

// UpsertXattr stores one extended attribute for a path record, replacing any
// previous value for the same name.
func (s *Store) UpsertXattr(ctx context.Context, fileID int64, name string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO xattrs (file_id, name, value) VALUES (?, ?, ?)
		ON CONFLICT(file_id, name) DO UPDATE SET value = excluded.value`,
		fileID, name, value)
	return err
}

// Xattrs returns all extended attributes recorded for a path record.
func (s *Store) Xattrs(ctx context.Context, fileID int64) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM xattrs WHERE file_id = ? ORDER BY name`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string][]byte)
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, rows.Err()
}
