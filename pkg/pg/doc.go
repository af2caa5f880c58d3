// Package pg holds the PostgreSQL plumbing shared by the billing service:
// pool construction with retries (Connect), goose migrations read from an
// embedded filesystem (Migrate), a transaction helper (WithTx), a health
// check and helpers that classify pgx errors.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, migrations.FS, ".", log); err != nil {
//		return err
//	}
package pg
