//go:build debug_mem_utils

package memutils_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/memutils"
)

type validatableFunc func() error

func (f validatableFunc) Validate() error {
	return f()
}

func TestDebugValidatePanicsOnError(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugValidate(validatableFunc(func() error { return nil }))
	})
	require.Panics(t, func() {
		memutils.DebugValidate(validatableFunc(func() error { return errors.New("corrupt") }))
	})
	require.Panics(t, func() {
		memutils.DebugCheckPow2(12, "value")
	})
}
