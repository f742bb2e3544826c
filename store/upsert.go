package store

import (
	"context"
	"database/sql"
)

// createOrLoad is the shared upsert protocol for both record kinds: run an
// insert whose conflict action on the unique key is DO NOTHING, then load the
// row by that same key. If the insert took, this call created the record;
// otherwise some earlier call (possibly another worker's) did, and the loaded
// row is treated as pre-existing. No existence check runs before the insert,
// so there is no TOCTOU window on the identity columns.
func createOrLoad[R any](
	ctx context.Context,
	db *sql.DB,
	insert string,
	args []any,
	load func(context.Context) (R, error),
) (rec R, created bool, err error) {
	var zero R
	res, err := db.ExecContext(ctx, insert, args...)
	if err != nil {
		return zero, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return zero, false, err
	}
	rec, err = load(ctx)
	if err != nil {
		return zero, false, err
	}
	return rec, affected == 1, nil
}
