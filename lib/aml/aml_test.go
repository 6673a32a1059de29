package aml

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDummyAlwaysClear(t *testing.T) {
	res, err := Dummy{}.Check(context.Background(), "0xabc", "eth", "U1")
	require.NoError(t, err)
	assert.False(t, res.RiskDetected)
	assert.False(t, res.Pending)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()

	// empty name degrades to the always-clear backend
	s, err := reg.Resolve("")
	require.NoError(t, err)
	_, ok := s.(Dummy)
	assert.True(t, ok)

	// unknown names fail fast
	_, err = reg.Resolve("chainalysis")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotRegisteredBackend))

	reg.Register("chainalysis", Dummy{})
	s, err = reg.Resolve("chainalysis")
	require.NoError(t, err)
	require.NotNil(t, s)
}
