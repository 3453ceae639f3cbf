package pgtariff

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Storage struct {
	db *pgxpool.Pool
}

func New(connString string) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}

	db, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// UnitOfWork scopes one classification call to one transaction. Every exit
// path must end in Commit or Rollback; Rollback after Commit is a no-op.
type UnitOfWork struct {
	tx pgx.Tx
}

func (s *Storage) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &UnitOfWork{tx: tx}, nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	return errors.Wrap(u.tx.Commit(ctx), "commit tx")
}

func (u *UnitOfWork) Rollback(ctx context.Context) error {
	err := u.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return errors.Wrap(err, "rollback tx")
}
