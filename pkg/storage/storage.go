// Package storage resolves workflow input metadata: the accounts that own
// uploaded files and the file records a source stage turns into tuples.
// The canonical store is Postgres; a Redis read-through cache and an
// in-memory store cover shared deployments and tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vnykmshr/tupleflow/pkg/schema"
	"github.com/vnykmshr/tupleflow/pkg/tuple"
)

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("storage: not found")

// Account owns uploaded files.
type Account struct {
	ID   int64
	Name string
}

// FileRecord describes one uploaded file.
type FileRecord struct {
	ID         int64
	AccountID  int64
	Name       string
	Path       string
	Size       int64
	UploadedAt time.Time
}

// MetadataStore looks up accounts and their files.
type MetadataStore interface {
	// AccountByName resolves an account, or ErrNotFound.
	AccountByName(ctx context.Context, name string) (Account, error)

	// FilesForAccount lists the account's files ordered by upload time.
	FilesForAccount(ctx context.Context, accountID int64) ([]FileRecord, error)

	// Close releases the store's resources.
	Close() error
}

// FileSchema is the tuple schema produced from file records.
func FileSchema() *schema.Schema {
	return schema.MustNew(
		schema.Attribute{Name: "name", Type: schema.TypeText},
		schema.Attribute{Name: "path", Type: schema.TypeText},
		schema.Attribute{Name: "size", Type: schema.TypeInteger},
		schema.Attribute{Name: "uploaded_at", Type: schema.TypeDateTime},
	)
}

// FileTuples converts file records into tuples under FileSchema, ready to
// feed a source stage.
func FileTuples(files []FileRecord) ([]*tuple.Tuple, error) {
	s := FileSchema()
	rows := make([]*tuple.Tuple, 0, len(files))
	for _, f := range files {
		row, err := tuple.New(s, f.Name, f.Path, int(f.Size), f.UploadedAt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
