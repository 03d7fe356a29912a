package repositories

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/telcoguard/fraud-decision/configs"
)

func TestNewDatabase_RejectsBadURL(t *testing.T) {
	_, err := NewDatabase(configs.DatabaseConfig{URL: "://not-a-url"})
	assert.Error(t, err)
}

func TestIsDuplicateKeyError(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}

	assert.True(t, isDuplicateKeyError(dup))
	assert.True(t, isDuplicateKeyError(fmt.Errorf("insert evidence: %w", dup)),
		"wrapped violations still match")
	assert.False(t, isDuplicateKeyError(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isDuplicateKeyError(errors.New("connection refused")))
	assert.False(t, isDuplicateKeyError(nil))
}
