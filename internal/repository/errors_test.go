package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestAsDuplicate(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		field string
		dup   bool
	}{
		{"pq class roll", &pq.Error{Code: "23505", Constraint: "students_class_roll_key"}, "class_roll", true},
		{"pgx primary key", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: "students_pkey", Detail: "Key (prn)=(1001) already exists."}), "prn", true},
		{"pq other code", &pq.Error{Code: "23503"}, "", false},
		{"plain", errors.New("disk full"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := asDuplicate(tc.err, "username", "class_roll", "prn")
			var dup *DuplicateError
			if !tc.dup {
				assert.False(t, errors.As(err, &dup))
				assert.Same(t, tc.err, err)
				return
			}
			assert.True(t, errors.As(err, &dup))
			assert.Equal(t, tc.field, dup.Field)
			assert.ErrorIs(t, err, ErrDuplicateKey)
		})
	}
	assert.Nil(t, asDuplicate(nil))
}
