// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package config provides the accounting policy engine's configuration,
// loaded from environment variables and an optional TOML catalogue file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// EnforceFlag is a single bit of the ACCOUNTING_ENFORCE bitmask (spec §6).
type EnforceFlag uint8

const (
	// EnforceLimits turns on limit checking (submit/runnable/time-out).
	EnforceLimits EnforceFlag = 1 << iota
	// EnforceSafe tightens CPU-minute budget checks to "must run to
	// completion" and disables the time-out killer.
	EnforceSafe
	// EnforceAssociations requires every job to resolve to a real
	// association rather than falling back to an implicit default.
	EnforceAssociations
)

// Config holds configuration for the accounting policy engine.
type Config struct {
	// Enforce is the ACCOUNTING_ENFORCE bitmask (LIMITS | SAFE | ASSOCIATIONS).
	Enforce EnforceFlag

	// TRESCatalogue is the ordered list of TRES names the engine tracks
	// (e.g. "cpu", "mem", "node", "energy"). Vector index assignment
	// follows this order.
	TRESCatalogue []string

	// WaitReasonBase is the first wait-reason code in the contiguous
	// "job held for accounting policy" range (spec GLOSSARY).
	WaitReasonBase int

	// WaitReasonCount is the number of contiguous codes in that range.
	WaitReasonCount int

	// Debug enables debug-level logging of holds, clips, and underflow
	// saturations.
	Debug bool

	// CatalogueFile is an optional path to a TOML file overriding
	// TRESCatalogue/WaitReasonBase/WaitReasonCount.
	CatalogueFile string
}

// catalogueFile is the on-disk TOML shape for CatalogueFile.
type catalogueFile struct {
	TRES            []string `toml:"tres"`
	WaitReasonBase  int      `toml:"wait_reason_base"`
	WaitReasonCount int      `toml:"wait_reason_count"`
}

// NewDefault creates a new configuration with default values.
func NewDefault() *Config {
	return &Config{
		Enforce:         EnforceLimits,
		TRESCatalogue:   []string{"cpu", "mem", "node", "energy"},
		WaitReasonBase:  1,
		WaitReasonCount: 31,
		Debug:           getEnvBoolOrDefault("ACCTPOLICY_DEBUG", false),
		CatalogueFile:   os.Getenv("ACCTPOLICY_CONFIG_FILE"),
	}
}

// Load loads configuration from environment variables and, if set, a TOML
// catalogue file, mutating the receiver in place.
func (c *Config) Load() error {
	if enforce := os.Getenv("ACCTPOLICY_ENFORCE"); enforce != "" {
		flags, err := parseEnforceFlags(enforce)
		if err != nil {
			return err
		}
		c.Enforce = flags
	}

	if tres := os.Getenv("ACCTPOLICY_TRES"); tres != "" {
		c.TRESCatalogue = strings.Split(tres, ",")
	}

	if file := os.Getenv("ACCTPOLICY_CONFIG_FILE"); file != "" {
		c.CatalogueFile = file
	}

	if c.CatalogueFile != "" {
		if err := c.loadCatalogueFile(c.CatalogueFile); err != nil {
			return err
		}
	}

	c.Debug = getEnvBoolOrDefault("ACCTPOLICY_DEBUG", c.Debug)

	return nil
}

func (c *Config) loadCatalogueFile(path string) error {
	var parsed catalogueFile
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return fmt.Errorf("%w: %s", ErrCatalogueFileUnreadable, err)
	}

	if len(parsed.TRES) > 0 {
		c.TRESCatalogue = parsed.TRES
	}
	if parsed.WaitReasonBase != 0 {
		c.WaitReasonBase = parsed.WaitReasonBase
	}
	if parsed.WaitReasonCount != 0 {
		c.WaitReasonCount = parsed.WaitReasonCount
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.TRESCatalogue) == 0 {
		return ErrMissingTRESCatalogue
	}

	if c.WaitReasonCount <= 0 {
		return ErrInvalidEnforceFlags
	}

	return nil
}

// HasFlag reports whether the given enforce flag is set.
func (c *Config) HasFlag(flag EnforceFlag) bool {
	return c.Enforce&flag != 0
}

func parseEnforceFlags(raw string) (EnforceFlag, error) {
	var flags EnforceFlag
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToUpper(strings.TrimSpace(part)) {
		case "LIMITS":
			flags |= EnforceLimits
		case "SAFE":
			flags |= EnforceSafe
		case "ASSOCIATIONS":
			flags |= EnforceAssociations
		case "":
			continue
		default:
			return 0, fmt.Errorf("%w: unknown flag %q", ErrInvalidEnforceFlags, part)
		}
	}
	return flags, nil
}

// getEnvBoolOrDefault returns the environment variable value as a boolean or a default value.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
