package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuotaExceededError(t *testing.T) {
	err := &QuotaExceededError{Resource: "jobs", Current: 1, Limit: 1}
	assert.Equal(t, "quota exceeded for jobs (1/1)", err.Error())
	assert.True(t, IsQuotaExceeded(err))
	assert.True(t, IsQuotaExceeded(fmt.Errorf("create job: %w", err)))
	assert.False(t, IsQuotaExceeded(errors.New("other")))
}

func TestConflictError(t *testing.T) {
	t.Run("with reason", func(t *testing.T) {
		err := Conflict("invite", "already redeemed")
		assert.Equal(t, "invite conflict: already redeemed", err.Error())
		assert.True(t, IsConflict(err))
	})

	t.Run("without reason", func(t *testing.T) {
		err := Conflict("license", "")
		assert.Equal(t, "license conflict", err.Error())
	})
}

func TestDataAccess(t *testing.T) {
	t.Run("wraps storage errors", func(t *testing.T) {
		err := DataAccess("resolve entitlement", sql.ErrConnDone)
		assert.True(t, IsDataAccess(err))
		assert.True(t, errors.Is(err, sql.ErrConnDone))
		assert.Contains(t, err.Error(), "resolve entitlement")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, DataAccess("noop", nil))
	})

	t.Run("taxonomy errors pass through", func(t *testing.T) {
		conflict := Conflict("invite", "exhausted")
		assert.Same(t, conflict, DataAccess("redeem invite", conflict))
		assert.Equal(t, ErrPermissionDenied, DataAccess("delete job", ErrPermissionDenied))
	})
}

func TestValidationError(t *testing.T) {
	assert.Equal(t, "slug: too short", Invalid("slug", "too short").Error())
	assert.Equal(t, "bad input", (&ValidationError{Message: "bad input"}).Error())
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", Invalid("name", "required"))))
}
