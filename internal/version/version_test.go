package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuildInfo(t *testing.T, version, commit, buildTime string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
	Version, GitCommit, BuildTime = version, commit, buildTime
}

func TestString(t *testing.T) {
	withBuildInfo(t, "0.3.0", "unknown", "unknown")
	assert.Equal(t, "0.3.0", String())
	assert.Equal(t, "Version=0.3.0", StringFull())

	withBuildInfo(t, "0.3.0", "0123456789abcdef", "2026-10-01T00:00:00Z")
	assert.Equal(t, "0.3.0-01234567", String())
	assert.Equal(t, "Version=0.3.0 Commit=01234567 BuildTime=2026-10-01T00:00:00Z", StringFull())
}

func TestSemver(t *testing.T) {
	assert.True(t, IsValid("0.3.0"))
	assert.False(t, IsValid("latest"))
	assert.True(t, IsVersionGreaterOrEqualThan("0.3.0", "0.2.9"))
	assert.True(t, IsVersionGreaterOrEqualThan("0.3.0", "0.3.0"))
	assert.False(t, IsVersionGreaterOrEqualThan("0.2.0", "0.3.0"))
}

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	withBuildInfo(t, "1.0.0", "unknown", "unknown")
	assert.Equal(t, "1.0.0", GetCurrentVersion("prod"))
}
