package repo

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"raciline/internal/logging"
)

type Repo struct {
	DB  *sql.DB
	Log *slog.Logger
}

var ErrNotFound = errors.New("not found")

func (r Repo) logger() *slog.Logger {
	return logging.OrDefault(r.Log, "repo")
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
