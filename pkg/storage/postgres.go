package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the canonical MetadataStore backed by a pgx connection
// pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// AccountByName implements MetadataStore.
func (p *PostgresStore) AccountByName(ctx context.Context, name string) (Account, error) {
	var a Account
	err := p.pool.QueryRow(ctx,
		`SELECT id, name FROM accounts WHERE name = $1`, name,
	).Scan(&a.ID, &a.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("storage: account by name: %w", err)
	}
	return a, nil
}

// FilesForAccount implements MetadataStore.
func (p *PostgresStore) FilesForAccount(ctx context.Context, accountID int64) ([]FileRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, account_id, name, path, size, uploaded_at
		 FROM files WHERE account_id = $1
		 ORDER BY uploaded_at, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("storage: files for account: %w", err)
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.ID, &f.AccountID, &f.Name, &f.Path, &f.Size, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("storage: scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: files for account: %w", err)
	}
	return files, nil
}

// Close implements MetadataStore.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
