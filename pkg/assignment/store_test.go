package assignment

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenantdesk/accesskit/pkg/profiles"
)

type fakeGrants struct {
	grants map[string][]profiles.ModuleGrant
}

func (f *fakeGrants) Resolve(ctx context.Context, code string) (*profiles.ResolvedProfile, error) {
	grants, ok := f.grants[code]
	if !ok {
		return nil, profiles.ErrProfileNotFound
	}
	return &profiles.ResolvedProfile{Code: code, Grants: grants}, nil
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	grants := &fakeGrants{grants: map[string][]profiles.ModuleGrant{
		"teacher_basic": {
			profiles.GrantFor("attendance", profiles.ReadOnly),
			profiles.GrantFor("grades", profiles.Granted),
		},
	}}
	return NewPostgresStore(db, grants), mock
}

var accountColumns = []string{"user_id", "organization_id", "profile_code", "first_name", "last_name", "email", "role"}

func TestPostgresStore_ReadAssignablePopulation(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(accountColumns).
		AddRow("u1", "org1", "teacher_basic", "Ana", "Alves", "ana@example.com", "teacher").
		AddRow("u2", "org1", nil, "Bruno", "Barros", "bruno@example.com", "teacher")
	mock.ExpectQuery(regexp.QuoteMeta("NOT (role = ANY($2))")).
		WithArgs("org1", pq.Array([]string{"owner", "platform_operator"}), "%al%", 50).
		WillReturnRows(rows)

	accounts, err := store.ReadAssignablePopulation(context.Background(), PopulationQuery{
		OrganizationID: "org1",
		Pattern:        "%al%",
		ExcludedRoles:  DefaultExcludedRoles,
		Limit:          50,
	})
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.True(t, accounts[0].Holds("teacher_basic"))
	assert.Nil(t, accounts[1].ProfileCode)
	assert.Equal(t, "bruno@example.com", accounts[1].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReadAssignablePopulationDefaults(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("ORDER BY last_name ASC").
		WithArgs("org1", pq.Array([]string{}), "%", 10).
		WillReturnRows(sqlmock.NewRows(accountColumns))

	accounts, err := store.ReadAssignablePopulation(context.Background(), PopulationQuery{OrganizationID: "org1", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, accounts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReadCurrentAssignments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE organization_id = $1 AND profile_code = $2")).
		WithArgs("org1", "teacher_basic").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2"))

	ids, err := store.ReadCurrentAssignments(context.Background(), "org1", "teacher_basic")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	mock.ExpectQuery("FROM user_access_assignments").WillReturnError(errors.New("timeout"))
	_, err = store.ReadCurrentAssignments(context.Background(), "org1", "teacher_basic")
	assert.Error(t, err)
}

func TestPostgresStore_WriteProfileCode(t *testing.T) {
	ctx := context.Background()
	ids := []string{"u1", "u2"}

	t.Run("assign reconciles granted modules", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE user_access_assignments")).
			WithArgs("teacher_basic", pq.Array(ids)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM module_permissions")).
			WithArgs(pq.Array(ids), pq.Array([]string{"attendance", "grades"})).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO module_permissions")).
			WithArgs(pq.Array(ids), "attendance", true, false, false, true).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO module_permissions")).
			WithArgs(pq.Array(ids), "grades", true, true, true, true).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		code := "teacher_basic"
		require.NoError(t, store.WriteProfileCode(ctx, ids, &code))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("clear revokes every granted module", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE user_access_assignments").
			WithArgs(nil, pq.Array(ids)).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("DELETE FROM module_permissions").
			WithArgs(pq.Array(ids), pq.Array([]string{})).
			WillReturnResult(sqlmock.NewResult(0, 4))
		mock.ExpectCommit()

		require.NoError(t, store.WriteProfileCode(ctx, ids, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure rolls back the chunk", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE user_access_assignments").WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec("DELETE FROM module_permissions").WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		code := "teacher_basic"
		err := store.WriteProfileCode(ctx, ids, &code)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "deadlock detected")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown profile fails before writing", func(t *testing.T) {
		store, mock := newMockStore(t)

		code := "ghost"
		err := store.WriteProfileCode(ctx, ids, &code)
		assert.ErrorIs(t, err, profiles.ErrProfileNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty chunk is a no-op", func(t *testing.T) {
		store, mock := newMockStore(t)
		require.NoError(t, store.WriteProfileCode(ctx, nil, nil))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ListModulePermissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{"user_id", "module_id", "can_read", "can_write", "can_delete", "can_export", "granted_by_profile", "updated_at"}).
		AddRow("u1", "attendance", true, false, false, true, true, now).
		AddRow("u1", "library", true, true, false, false, false, now)
	mock.ExpectQuery("FROM module_permissions").WithArgs("u1").WillReturnRows(rows)

	list, err := store.ListModulePermissions(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].GrantedByProfile)
	assert.False(t, list[1].GrantedByProfile)
	assert.True(t, list[1].CanWrite)
}
