package store

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"
)

// Migration is a set of statements that moves the schema to Version.
type Migration struct {
	Version    string
	Statements []string
}

// PendingMigrations returns the migrations newer than current, oldest first.
// An empty current means nothing has been applied.
func PendingMigrations(current string, all []Migration) ([]Migration, error) {
	if current != "" && !semver.IsValid(current) {
		return nil, errors.Errorf("invalid schema version %q", current)
	}
	pending := make([]Migration, 0, len(all))
	for _, m := range all {
		if !semver.IsValid(m.Version) {
			return nil, errors.Errorf("invalid migration version %q", m.Version)
		}
		if current == "" || semver.Compare(m.Version, current) > 0 {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return semver.Compare(pending[i].Version, pending[j].Version) < 0
	})
	return pending, nil
}

// LatestVersion returns the highest version among versions, or "".
func LatestVersion(versions []string) string {
	latest := ""
	for _, v := range versions {
		if !semver.IsValid(v) {
			continue
		}
		if latest == "" || semver.Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}
