package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShort(t *testing.T) {
	require.Equal(t, "abcdef1", short("abcdef123456"))
	require.Equal(t, "abc", short("abc"))
}

func TestStringUsesInjectedValues(t *testing.T) {
	origV, origC, origB := Version, GitCommit, BuildDate
	t.Cleanup(func() { Version, GitCommit, BuildDate = origV, origC, origB })

	Version, GitCommit, BuildDate = "v1.2.3", "0123456789", "2026-01-01"
	require.Equal(t, "v1.2.3 (0123456, built 2026-01-01)", String())
}
