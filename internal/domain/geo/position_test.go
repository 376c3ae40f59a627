// internal/domain/geo/position_test.go

package geo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateOwnerID(t *testing.T) {
	for _, id := range []string{"alice", "user-42", "0b7c6d0e-8f1a-4c2b-9d3e-5f6a7b8c9d0e", "Ana_María"} {
		assert.NoError(t, ValidateOwnerID(id), id)
	}

	for _, id := range []string{"", "*", ">", "a.b", "a b", "a\tb", "a/b", "a+b", "#", strings.Repeat("x", MaxOwnerIDLength+1)} {
		assert.ErrorIs(t, ValidateOwnerID(id), ErrInvalidOwner, id)
	}
}
