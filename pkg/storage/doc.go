// Package storage opens the persistence backends Gatehouse relies on.
//
// # Overview
//
// Gatehouse keeps durable state in PostgreSQL (provider records, accounts,
// account links, audit events), short-lived state in Redis (sessions, replay
// guard keys, rate limit windows), and archived audit batches in S3. This
// package owns the connection configuration and constructors; the domain
// packages (pkg/broker, pkg/account, pkg/audit, pkg/middleware) own the
// schemas and key layouts built on top of these handles.
//
// # Usage
//
//	cfg := storage.DefaultConfig()
//	cfg.PostgresURL = "postgres://localhost/gatehouse?sslmode=disable"
//	cfg.RedisURL = "redis://localhost:6379/0"
//
//	db, err := storage.OpenPostgres(cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	rdb, err := storage.NewRedisClient(cfg)
//	if err != nil {
//		return err
//	}
//	defer rdb.Close()
//
// The S3 client is optional and only constructed when audit archival is
// enabled:
//
//	s3c, err := storage.NewS3Client(ctx, cfg)
//
// All constructors verify connectivity before returning, so a misconfigured
// backend fails at startup rather than on the first login.
//
// # Related Packages
//
//   - pkg/broker: provider store, sessions, and replay guard on these handles
//   - pkg/account: account and account-link store
//   - pkg/audit: audit event store and S3 archiver
package storage
