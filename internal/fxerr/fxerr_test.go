package fxerr

import (
	"testing"

	goerrors "errors"

	"github.com/stretchr/testify/require"
)

func TestWrapClassifiesAndPreservesCause(t *testing.T) {
	cause := goerrors.New("pread failed")
	err := Wrap(Device, cause, "blockdev: read block 3")
	require.Error(t, err)

	class, ok := ClassOf(err)
	require.True(t, ok)
	require.Equal(t, Device, class)
}

func TestClassOfUnclassifiedDefaultsToStructural(t *testing.T) {
	class, ok := ClassOf(goerrors.New("not classified"))
	require.False(t, ok)
	require.Equal(t, Structural, class)
}

func TestAggregateCombinesMultipleCauses(t *testing.T) {
	err := Aggregate(goerrors.New("primary bad magic"), goerrors.New("backup checksum mismatch"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "primary bad magic")
	require.Contains(t, err.Error(), "backup checksum mismatch")
}

func TestAggregateOfAllNilIsNil(t *testing.T) {
	require.NoError(t, Aggregate(nil, nil))
}
