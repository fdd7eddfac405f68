package storage

import "github.com/pkg/errors"

// InitStore opens the Postgres store behind connStr.
func InitStore(dbConnStr string) (*PostgresStore, error) {
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, errors.Wrap(err, "init postgres store")
	}
	return store, nil
}
