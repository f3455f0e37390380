// Package cli implements accessctl, the operator command line for accessd.
//
// # Commands
//
// profiles: list the profiles visible to an organization
//
//	accessctl profiles --org org-1 --inactive
//
// permissions: show the resolved module permissions of a profile
//
//	accessctl permissions --code teacher_basic
//
// deactivate, delete, purge: profile lifecycle
//
//	accessctl delete --code teacher_basic
//	accessctl purge --code teacher_basic
//
// assign: open a session, preview and commit
//
//	accessctl assign \
//		--profile teacher_advanced \
//		--org org-1 \
//		--add u1,u2 \
//		--remove u3
//
// A commit whose additions would replace another profile is refused until
// it is rerun with --yes. A partially applied commit is finished by running
// the same command again; the new session sees what was already written.
//
// migrate: apply pending schema migrations directly against PostgreSQL
//
//	accessctl migrate --database-url postgres://localhost/accesskit
//
// API commands read the server URL from --server or ACCESSKIT_SERVER.
package cli
