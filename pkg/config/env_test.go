package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("RADAR_TEST", "")
	require.Equal(t, "fallback", GetEnv("RADAR_TEST", "fallback"))
	t.Setenv("RADAR_TEST", "set")
	require.Equal(t, "set", GetEnv("RADAR_TEST", "fallback"))
}

func TestTypedGettersFallBackOnMalformedValues(t *testing.T) {
	t.Setenv("RADAR_INT", "notint")
	require.Equal(t, 7, GetEnvInt("RADAR_INT", 7))
	t.Setenv("RADAR_INT", " 100 ")
	require.Equal(t, 100, GetEnvInt("RADAR_INT", 7))

	t.Setenv("RADAR_BOOL", "")
	require.True(t, GetEnvBool("RADAR_BOOL", true))
	t.Setenv("RADAR_BOOL", "false")
	require.False(t, GetEnvBool("RADAR_BOOL", true))

	t.Setenv("RADAR_TTL", "soon")
	require.Equal(t, time.Minute, GetEnvDuration("RADAR_TTL", time.Minute))
	t.Setenv("RADAR_TTL", "24h")
	require.Equal(t, 24*time.Hour, GetEnvDuration("RADAR_TTL", time.Minute))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("RADAR_BROKERS", " a:9092, ,b:9092 ")
	require.Equal(t, []string{"a:9092", "b:9092"}, GetEnvList("RADAR_BROKERS", []string{"x"}))
	t.Setenv("RADAR_BROKERS", " , ")
	require.Equal(t, []string{"x"}, GetEnvList("RADAR_BROKERS", []string{"x"}))
}

func TestGetLogLevel(t *testing.T) {
	for value, want := range map[string]logrus.Level{
		"debug":   logrus.DebugLevel,
		"warn":    logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"":        logrus.InfoLevel,
		"verbose": logrus.InfoLevel,
	} {
		t.Setenv("LOG_LEVEL", value)
		require.Equal(t, want, GetLogLevel(), value)
	}
}

func TestLoadEnvOverlaysEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "radar.env")
	require.NoError(t, os.WriteFile(path, []byte("RADAR_FROM_FILE=yes\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("RADAR_FROM_FILE", "no")
	require.Equal(t, []string{".env", path}, EnvFiles())

	LoadEnv(logrus.New())
	require.Equal(t, "yes", os.Getenv("RADAR_FROM_FILE"))
}
