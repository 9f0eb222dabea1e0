package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_EmptyAddrReturnsNilNoOp(t *testing.T) {
	inv := New("", "")
	assert.Nil(t, inv)
	assert.NoError(t, inv.InvalidateChain(context.Background(), 1))
	assert.NoError(t, inv.Close())
}
