// Package pg bootstraps the PostgreSQL connection used by the postgres record
// store.
//
// Config is populated from PG_* environment variables. Connect opens a pgx
// connection pool and retries while the database comes up, Migrate applies
// embedded goose migrations and Healthcheck wraps Ping for the health
// endpoint. OpenDB bridges the pool to database/sql for code that is written
// against *sql.DB.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pg.OpenDB(pool))
package pg
