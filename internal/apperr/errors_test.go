package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistenceWrapsBoth(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("submit: %w", Persistence("save job", cause))

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "save job: connection refused")
	assert.Nil(t, Persistence("noop", nil))
}

func TestVendorErrors(t *testing.T) {
	assert.Equal(t, "vendor request failed (code 429): insufficient credits",
		(&VendorRequestError{Code: 429, Message: "insufficient credits"}).Error())
	assert.Equal(t, "vendor request failed: dial tcp: refused",
		(&VendorRequestError{Message: "dial tcp: refused"}).Error())
	assert.Equal(t, "music generation failed", (&VendorJobFailedError{TaskID: "t"}).Error())
	assert.Equal(t, "lyrics rejected", (&VendorJobFailedError{Message: "lyrics rejected"}).Error())
}

func TestIsQuotaExceeded(t *testing.T) {
	assert.True(t, IsQuotaExceeded(fmt.Errorf("submit: %w", ErrQuotaExceeded)))
	assert.False(t, IsQuotaExceeded(ErrPersistence))
}
