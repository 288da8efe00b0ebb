package residency_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/arsenal/spancache/residency"
)

func TestUnsupported(t *testing.T) {
	var r residency.Residency = residency.Unsupported{}

	_, ok := r.Get(0x1000, 4096)
	require.False(t, ok)
	require.Equal(t, 0, r.NativePagesInHugePage())
	require.NoError(t, r.Close())
}

func TestInfoAdd(t *testing.T) {
	info := residency.Info{BytesResident: 10, BytesSwapped: 1}
	info.Add(residency.Info{BytesResident: 5, BytesSwapped: 2})

	require.Equal(t, residency.Info{BytesResident: 15, BytesSwapped: 3}, info)
	require.Equal(t, "{resident = 15, swapped = 3}", info.String())
}

func TestNewAlwaysAnswers(t *testing.T) {
	r := residency.New()
	require.NotNil(t, r)
	require.NoError(t, r.Close())
}
