// Package schema owns the PostgreSQL schema and connections shared by the
// profile catalog and the assignment engine.
//
// Migrate applies versioned migrations, one transaction each, and records them
// in schema_migrations. ConnectionManager holds the primary connection plus
// round-robin read replicas; MonitorReplicas drops the ones that stop
// answering and ReplicaProbe reports them to the health checker:
//
//	cm, err := schema.NewConnectionManager(schema.ConnectionConfig{
//		PrimaryURL:  cfg.Database.PostgresURL,
//		ReplicaURLs: cfg.Database.ReplicaURLs(),
//		MaxConns:    cfg.Database.MaxConns,
//	}, logger)
//	if err != nil {
//		return err
//	}
//	defer cm.Close()
//
//	if _, err := schema.Migrate(ctx, cm.Primary(), logger); err != nil {
//		return err
//	}
//
// Tables:
//
//   - access_profiles: one row per profile, permission matrix as JSONB
//   - user_access_assignments: one row per account with a nullable profile_code;
//     the foreign key is ON DELETE RESTRICT so a referenced profile cannot be purged
//   - module_permissions: per-module flags, granted_by_profile marks rows the
//     assignment engine owns
//   - audit_logs: profile changes and assignment commits recorded by pkg/audit
package schema
