package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPtr(t *testing.T) {
	s := Ptr("hello")
	require.NotNil(t, s)
	assert.Equal(t, "hello", *s)

	n := Ptr(42)
	require.NotNil(t, n)
	assert.Equal(t, 42, *n)

	b := Ptr(true)
	require.NotNil(t, b)
	assert.True(t, *b)
}
