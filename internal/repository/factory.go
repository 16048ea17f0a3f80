// Assembly types for the repository set. The concrete sqlite and postgres
// constructors live in their own packages; cmd wiring picks one based on the
// configured driver and fills a Repositories value.
package repository

import "context"

// Repositories holds all repository instances.
type Repositories struct {
	User  UserRepository
	Blob  BlobRepository
	File  FileRepository
	Stats StatsRepository
}

// DatabaseHealth is an interface for database health checks.
// Both the sqlite and postgres DB wrappers satisfy it.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}
