// Package assignment assigns one access profile to many user accounts at once.
//
// # Sessions
//
// An assignment session freezes, at open time, the accounts of an organization
// that already hold the target profile. Every later diff is computed against
// that frozen initial selection:
//
//	session, err := engine.OpenSession(ctx, "teacher_basic", "org-1", assignment.SessionOptions{Search: "silva"})
//	preview := engine.PreviewDiff(session, selected)
//
// The population is capped server-side. A session whose population reached the
// cap is Truncated and callers should narrow the search.
//
// # Committing
//
// CommitAssignment writes the diff in sequential chunks, additions first:
//
//	result, err := engine.CommitAssignment(ctx, session, preview.ToAdd, preview.ToRemove, assignment.CommitOptions{})
//	switch {
//	case assignment.IsConfirmationRequired(err):
//		// other profiles would be replaced; ask, then retry with ConfirmOverwrite
//	case assignment.IsBatchWrite(err):
//		// partially applied; Resume and commit what is left
//	}
//
// Nothing spans chunks: a failed chunk leaves earlier chunks applied and
// reports how many accounts were written.
//
// # Storage
//
// PostgresStore keeps each account's profile code on user_access_assignments
// and mirrors the granted modules into module_permissions inside each chunk's
// transaction. Rows granted by hand are left alone.
package assignment
