package database

import (
	"time"

	"github.com/uptrace/bun"
)

// BunCollection represents the collections table for Bun ORM
type BunCollection struct {
	bun.BaseModel `bun:"table:collections,alias:c"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"name,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// BunCollectionMember is one PDF of a collection, position keeps the caller's order
type BunCollectionMember struct {
	bun.BaseModel `bun:"table:collection_members,alias:cm"`

	ID           int64  `bun:"id,pk,autoincrement"`
	CollectionID int64  `bun:"collection_id,notnull"`
	Position     int    `bun:"position,notnull"`
	Path         string `bun:"path,notnull"`
}

// AppliedMigration tracks which schema migrations have run
type AppliedMigration struct {
	bun.BaseModel `bun:"table:bun_schema_migrations"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Version   string    `bun:"version,notnull,unique"`
	AppliedAt time.Time `bun:"applied_at,notnull,default:current_timestamp"`
}
