// Package profiles provides the access profile catalog for accesskit.
//
// # Overview
//
// An access profile is a named, reusable bundle of module permissions plus a
// data-visibility scope. Profiles are either templates (visible to every
// organization) or belong to exactly one organization. Each user account holds
// at most one profile at a time; assignment lives in pkg/assignment.
//
// # Permission Matrix
//
// A profile's matrix maps module keys to a leaf value:
//
//	{"grades": true, "attendance": "read_only", "billing": false}
//
// Legacy data may also carry broad domain bundles as nested objects:
//
//	{"finance": {"read": true, "write": false, "delete": false, "export": true}}
//
// The Resolver normalizes both shapes into a PermissionState per module.
// Structural domain keys and nested values are dropped; unknown leaf values
// degrade to Denied:
//
//	resolved := profiles.Resolve(profile.PermissionMatrix)
//	active := profiles.CountActive(resolved)
//
// # Categories
//
// Modules are grouped into categories by the ModuleCatalog. Authoring surfaces
// toggle a whole category at once:
//
//	next := profiles.SetCategory(category.Modules, resolved, true)
//	profiles.IsCategoryFullyGranted(category.Modules, next) // true
//
// # Catalog
//
// The Catalog enforces code format and uniqueness, scope immutability and
// in-use protection on top of a Store:
//
//	catalog := profiles.NewCatalog(store, logger).WithAuditLogger(auditLogger)
//	err := catalog.Create(ctx, &profiles.AccessProfile{...})
//	if profiles.IsDuplicateCode(err) { ... }
//
// # Related Packages
//
//   - pkg/assignment: bulk profile assignment across user accounts
//   - pkg/audit: audit trail for catalog changes
package profiles
