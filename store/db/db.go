// Package db selects the store driver named by the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/fincue/internal/profile"
	"github.com/hrygo/fincue/store"
	"github.com/hrygo/fincue/store/db/postgres"
	"github.com/hrygo/fincue/store/db/sqlite"
)

// NewDBDriver creates a store driver for the profile's driver and DSN.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile.DSN)
	case "postgres":
		driver, err = postgres.NewDB(profile.DSN)
	case "memory":
		driver = store.NewMemoryDriver()
	default:
		return nil, errors.Errorf("unknown db driver: %s", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
