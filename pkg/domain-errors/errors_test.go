package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("loading: %w", Wrap(base, CodeUnavailable, "store down"))

	assert.True(t, HasCode(err, CodeUnavailable))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.True(t, Is(err, base))
	assert.Equal(t, CodeUnavailable, CodeOf(err))
}

func TestCodeOfUncoded(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Nil(t, Wrap(nil, CodeInternal, "nothing"))
}
