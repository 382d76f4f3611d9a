package state

import (
	"context"

	"github.com/pkg/errors"
)

// Supported Options.Backend values.
const (
	BackendNone     = "none"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
)

// Options selects and configures a Store back end.
type Options struct {
	Backend string
	// Path is the YAML file (file) or database file (sqlite).
	Path string
	// DSN is the mysql or postgres connection string.
	DSN string
	// Name keys the row in SQL back ends.
	Name string
	S3   S3Options
}

// Open builds the configured store. It returns a nil Store and no error for
// BackendNone or an empty backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendFile:
		if opts.Path == "" {
			return nil, errors.New("file state store needs a path")
		}
		return NewFileStore(opts.Path), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, errors.New("sqlite state store needs a path")
		}
		return OpenSQLite(opts.Path, opts.Name)
	case BackendMySQL:
		return OpenMySQL(opts.DSN, opts.Name)
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.DSN, opts.Name)
	case BackendS3:
		return NewS3Store(opts.S3)
	default:
		return nil, errors.Errorf("unknown state backend %q", opts.Backend)
	}
}
