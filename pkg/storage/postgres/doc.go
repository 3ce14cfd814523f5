// Package postgres holds the storage plumbing shared by the domain packages:
// the connection pool, versioned schema migrations, the optional Redis
// client and transaction helpers.
//
// Domain packages own their SQL. They accept *sql.DB, run multi-statement
// operations through WithTx, and map IsUniqueViolation to conflicts.
//
//	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{URL: cfg.Database.URL, MaxConns: 20})
//	if err := postgres.RunMigrations(ctx, db, logger); err != nil { ... }
package postgres
