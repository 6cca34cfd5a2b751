package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// runMigrations runs all Bun migrations
func (b *BunDB) runMigrations(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*AppliedMigration)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var applied []AppliedMigration
	err = b.db.NewSelect().
		Model(&applied).
		Scan(ctx)
	if err != nil {
		return fmt.Errorf("failed to check applied migrations: %w", err)
	}

	appliedMap := make(map[string]bool)
	for _, m := range applied {
		appliedMap[m.Version] = true
	}

	// Run migrations in order
	migrations := []struct {
		version string
		name    string
		up      func(context.Context, bun.IDB) error
	}{
		{"001", "create_collections_table", init001CreateCollectionsTable},
		{"002", "create_collection_members_table", init002CreateCollectionMembersTable},
	}

	for _, m := range migrations {
		if appliedMap[m.version] {
			continue
		}

		Logger.Info("Running migration", "version", m.version, "name", m.name)
		err := b.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := m.up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().
				Model(&AppliedMigration{Version: m.version}).
				Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.version, err)
		}
	}

	Logger.Info("All migrations completed successfully")
	return nil
}

// Migration 001: collections table
func init001CreateCollectionsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*BunCollection)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// Migration 002: collection members, ordered by position within a collection
func init002CreateCollectionMembersTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*BunCollectionMember)(nil)).
		IfNotExists().
		ForeignKey(`("collection_id") REFERENCES "collections" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewCreateIndex().
		Model((*BunCollectionMember)(nil)).
		Index("collection_members_position_idx").
		Column("collection_id", "position").
		Unique().
		IfNotExists().
		Exec(ctx)
	return err
}
