package store

import (
	"context"
)

// Preference is a persisted key/value setting.
type Preference struct {
	Key       string
	Value     string
	UpdatedTs int64
}

// PreferenceStore is the key/value collaborator the routing strategy persists through.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}
