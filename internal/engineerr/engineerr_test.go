package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCellError_UnwrapsToCause(t *testing.T) {
	cause := ErrBadInput
	err := NewCellError("title", cause)

	assert.ErrorIs(t, err, ErrBadInput)
	assert.Equal(t, `column title: bad input`, err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestSkippedError_Message(t *testing.T) {
	err := NewSkippedError("summary", "title")
	assert.Equal(t, `upstream column title failed`, err.Error())
}
