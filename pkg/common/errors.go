package common

import "errors"

// ErrMissingTenant is returned by every entry point called without a tenant id.
var ErrMissingTenant = errors.New("tenant id is required")
