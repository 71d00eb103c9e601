// Package checks verifies environment and per-customer prerequisites before
// a migration is allowed to touch the filesystem.
package checks

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/brensch/migrobot/internal/config"
	"github.com/brensch/migrobot/internal/layout"
	"github.com/brensch/migrobot/internal/migtype"
)

// FailureKind classifies a failed precondition.
type FailureKind string

const (
	NotFound      FailureKind = "not_found"
	NotADirectory FailureKind = "not_a_directory"
	Reserved      FailureKind = "reserved"
)

// Error is returned by the first failing check.
type Error struct {
	Check string
	Kind  FailureKind
	Path  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotADirectory:
		return fmt.Sprintf("%s: %s is not a directory", e.Check, e.Path)
	case Reserved:
		return fmt.Sprintf("%s: %s is a reserved directory", e.Check, e.Path)
	default:
		return fmt.Sprintf("%s: %s not found", e.Check, e.Path)
	}
}

// Checker runs the ordered precondition checks for one migration root.
type Checker struct {
	cfg      config.Config
	resolver *layout.Resolver
	logger   *slog.Logger
}

func New(cfg config.Config, resolver *layout.Resolver, logger *slog.Logger) *Checker {
	return &Checker{cfg: cfg, resolver: resolver, logger: logger}
}

type check struct {
	name string
	fn   func() error
}

// Run executes every check in order and stops at the first failure. No
// check mutates the filesystem.
func (c *Checker) Run(customer string, kind migtype.Kind) error {
	customerDir := c.resolver.CustomerDir(customer)
	list := []check{
		{"external tool installation", func() error { return dirExists("external tool installation", c.cfg.PentahoDir) }},
		{"migration root", func() error { return dirExists("migration root", c.cfg.MigRoot) }},
		{"kitchen script", func() error {
			return fileExists("kitchen script", filepath.Join(c.cfg.PentahoDir, c.cfg.KitchenScript))
		}},
		{"launcher script", func() error {
			return fileExists("launcher script", c.cfg.LauncherPath())
		}},
		{"customer directory", func() error { return dirExists("customer directory", customerDir) }},
		{"not reserved", func() error {
			if c.resolver.IsReserved(customer) {
				return &Error{Check: "not reserved", Kind: Reserved, Path: customerDir}
			}
			return nil
		}},
		{"properties file", func() error { return fileExists("properties file", c.resolver.PropertiesPath(customer)) }},
		{"parameters file", func() error { return fileExists("parameters file", c.resolver.ParametersPath(customer)) }},
		{"migration type directory", func() error {
			return dirExists("migration type directory", c.resolver.MigDir(customer, kind))
		}},
	}

	for _, ch := range list {
		if err := ch.fn(); err != nil {
			c.logger.Error("Precondition failed.", "check", ch.name, "error", err)
			return err
		}
		c.logger.Debug("Precondition passed.", "check", ch.name)
	}
	return nil
}

func dirExists(name, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &Error{Check: name, Kind: NotFound, Path: path}
	}
	if !info.IsDir() {
		return &Error{Check: name, Kind: NotADirectory, Path: path}
	}
	return nil
}

func fileExists(name, path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return &Error{Check: name, Kind: NotFound, Path: path}
	}
	return nil
}
