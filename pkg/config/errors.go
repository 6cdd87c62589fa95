package config

import "errors"

var (
	// ErrMissingTRESCatalogue is returned when no TRES names are configured
	ErrMissingTRESCatalogue = errors.New("tres catalogue is required")

	// ErrInvalidEnforceFlags is returned when the enforce bitmask is malformed,
	// and by Validate when WaitReasonCount is not positive
	ErrInvalidEnforceFlags = errors.New("invalid accounting enforce flags")

	// ErrCatalogueFileUnreadable is returned when the configured TOML catalogue
	// file cannot be read or parsed
	ErrCatalogueFileUnreadable = errors.New("tres catalogue file could not be read")
)
