// Package database owns the service's SQLite file.
//
// Open creates the file with mode 0600 (it stores cloud refresh tokens),
// enables WAL when configured and keeps a single pooled connection.
// Migrate applies the versioned SQL files from the migrations package;
// each runs in its own transaction and is recorded in schema_migrations.
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
