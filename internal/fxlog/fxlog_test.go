package fxlog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	t.Setenv("FXFS_LOG_LEVEL", "")
	log := New()
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNewHonorsLogLevelEnvVar(t *testing.T) {
	t.Setenv("FXFS_LOG_LEVEL", "debug")
	log := New()
	require.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNewFallsBackOnUnrecognizedLevel(t *testing.T) {
	t.Setenv("FXFS_LOG_LEVEL", "not-a-level")
	log := New()
	require.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestRequestAddsScopedFields(t *testing.T) {
	log := New()
	entry := Request(log, 7, "T_READ", 3)
	fields := entry.(*logrus.Entry).Data
	require.Equal(t, uint64(7), fields["req_id"])
	require.Equal(t, "T_READ", fields["opcode"])
	require.Equal(t, 3, fields["handle"])
}
