package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CategoryCoercion, false))
}

func TestCategoryOfThroughWrapping(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("classify: %w", Wrap(base, CategoryServiceUnavailable, true))

	assert.Equal(t, CategoryServiceUnavailable, CategoryOf(err))
	assert.True(t, RetryableOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "classify: connection refused", err.Error())
}

func TestIsInnerCategory(t *testing.T) {
	inner := Wrap(errors.New("dial tcp"), CategorySinkConnectionFailure, false)
	outer := Wrap(fmt.Errorf("open store: %w", inner), CategorySinkWriteFailure, false)

	assert.Equal(t, CategorySinkWriteFailure, CategoryOf(outer))
	assert.True(t, Is(outer, CategorySinkConnectionFailure))
	assert.True(t, IsFatal(outer))
	assert.False(t, Is(outer, CategoryUnrecoverableParse))
}

func TestUnclassified(t *testing.T) {
	err := errors.New("plain")

	assert.Equal(t, Category(""), CategoryOf(err))
	assert.False(t, RetryableOf(err))
	assert.False(t, IsFatal(err))
}
