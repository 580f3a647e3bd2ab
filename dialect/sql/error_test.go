package sql

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestConstraintError(t *testing.T) {
	t.Parallel()

	cause := errors.New("duplicate key")
	err := NewConstraintError(cause)
	assert.Equal(t, "dialect/sql: constraint failed: duplicate key", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsConstraintError(err))
}

func TestIsUniqueConstraintError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsUniqueConstraintError(nil))
	assert.False(t, IsUniqueConstraintError(errors.New("connection reset")))

	// Typed driver errors.
	assert.True(t, IsUniqueConstraintError(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsUniqueConstraintError(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsUniqueConstraintError(&mysql.MySQLError{Number: 1451}))

	// Wrapped typed errors.
	wrapped := fmt.Errorf("exec: %w", &pq.Error{Code: "23505"})
	assert.True(t, IsUniqueConstraintError(wrapped))

	// String matching for drivers without typed errors.
	assert.True(t, IsUniqueConstraintError(errors.New("UNIQUE constraint failed: users.email")))
	assert.True(t, IsUniqueConstraintError(errors.New("ORA-00001: unique constraint (S.UQ) violated")))
}

func TestIsForeignKeyConstraintError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsForeignKeyConstraintError(nil))
	assert.True(t, IsForeignKeyConstraintError(&pq.Error{Code: "23503"}))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1451}))
	assert.True(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1452}))
	assert.False(t, IsForeignKeyConstraintError(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsForeignKeyConstraintError(errors.New("FOREIGN KEY constraint failed")))
	assert.True(t, IsForeignKeyConstraintError(errors.New("ORA-02291: integrity constraint violated")))
}

func TestIsCheckConstraintError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsCheckConstraintError(nil))
	assert.True(t, IsCheckConstraintError(&pq.Error{Code: "23514"}))
	assert.True(t, IsCheckConstraintError(&mysql.MySQLError{Number: 3819}))
	assert.True(t, IsCheckConstraintError(errors.New("CHECK constraint failed: age")))
	assert.True(t, IsCheckConstraintError(errors.New("ORA-02290: check constraint (S.CK) violated")))
}
