package main

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeHash(p string) (string, error) { return "hashed:" + p, nil }

func TestSeedAdmin(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	in := adminInput{Username: "coach", Email: "Coach@Academy.test", Password: "long enough", Roles: []string{"admin"}}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users (username, email, password_hash, roles)`)).
			WithArgs("coach", "coach@academy.test", "hashed:long enough", pq.Array([]string{"admin"})).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("11111111-1111-1111-1111-111111111111"))

		id, err := seedAdmin(ctx, db, in, fakeHash)
		assert.NoError(t, err)
		assert.Equal(t, "11111111-1111-1111-1111-111111111111", id)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO users`).WillReturnError(errors.New("db error"))
		_, err := seedAdmin(ctx, db, in, fakeHash)
		assert.ErrorContains(t, err, "upsert admin")
	})

	t.Run("HashError", func(t *testing.T) {
		_, err := seedAdmin(ctx, db, in, func(string) (string, error) { return "", errors.New("boom") })
		assert.ErrorContains(t, err, "hash password")
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminInputValidation(t *testing.T) {
	valid := adminInput{Username: "coach", Email: "c@a.test", Password: "12345678", Roles: []string{"admin"}}
	require.NoError(t, valid.validate())

	cases := map[string]func(*adminInput){
		"username": func(in *adminInput) { in.Username = " " },
		"email":    func(in *adminInput) { in.Email = "nope" },
		"password": func(in *adminInput) { in.Password = "short" },
		"roles":    func(in *adminInput) { in.Roles = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			require.Error(t, in.validate())
		})
	}
}

func TestSplitRoles(t *testing.T) {
	require.Equal(t, []string{"admin", "viewer"}, splitRoles(" Admin, ,viewer"))
	require.Nil(t, splitRoles(""))
}
