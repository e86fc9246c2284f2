// Package migrations resolves the embedded webhook schema into per-dialect
// filesystems a persistence client can register and apply.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"strings"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
)

// Dialects the embedded schema ships. Postgres files sit at the migrations
// root; sqlite variants live in a sqlite/ subdirectory.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const (
	embeddedRoot       = "data/sql/migrations"
	defaultSourceLabel = "go-billing-webhooks"
)

// FilesystemSpec pairs a dialect with the filesystem holding its migrations.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc receives one dialect's migration filesystem. Implementations
// typically call persistence.Client.RegisterSQLMigrations with fsys.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Registration records what Register resolved and handed to the client.
type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type Option func(*Registration)

// WithDialectSourceLabel overrides the label reported alongside each
// registered filesystem. Blank labels keep the default.
func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets restricts registration to the named dialects, so a
// sqlite-only deployment registers just the sqlite filesystem.
func WithValidationTargets(dialects ...string) Option {
	return func(r *Registration) {
		if targets := normalizeDialects(dialects); len(targets) > 0 {
			r.ValidationTargets = targets
		}
	}
}

// Filesystems resolves the embedded webhook schema into one filesystem per
// dialect and verifies each carries at least one up migration.
func Filesystems() ([]FilesystemSpec, error) {
	base, err := fs.Sub(billingwebhooks.GetCoreMigrationsFS(), embeddedRoot)
	if err != nil {
		return nil, fmt.Errorf("migrations: embedded schema at %s: %w", embeddedRoot, err)
	}
	sqlite, err := fs.Sub(base, DialectSQLite)
	if err != nil {
		return nil, fmt.Errorf("migrations: sqlite schema: %w", err)
	}

	specs := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: embeddedRoot, FS: base},
		{Dialect: DialectSQLite, Path: path.Join(embeddedRoot, DialectSQLite), FS: sqlite},
	}
	for _, spec := range specs {
		if err := requireUpMigrations(spec); err != nil {
			return nil, err
		}
	}
	return specs, nil
}

// Register resolves the embedded schema and hands each targeted dialect's
// filesystem to registerFn. By default both dialects are registered under the
// module's source label.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       defaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	specs, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = specs

	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	targeted := make(map[string]bool, len(reg.ValidationTargets))
	for _, dialect := range reg.ValidationTargets {
		targeted[dialect] = true
	}
	for _, spec := range reg.Filesystems {
		if !targeted[spec.Dialect] {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func requireUpMigrations(spec FilesystemSpec) error {
	matches, err := fs.Glob(spec.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: scan %s schema: %w", spec.Dialect, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("migrations: %s schema at %s has no *.up.sql files", spec.Dialect, spec.Path)
	}
	return nil
}

func normalizeDialects(dialects []string) []string {
	seen := make(map[string]struct{}, len(dialects))
	out := make([]string, 0, len(dialects))
	for _, dialect := range dialects {
		dialect = strings.ToLower(strings.TrimSpace(dialect))
		if dialect == "" {
			continue
		}
		if _, dup := seen[dialect]; dup {
			continue
		}
		seen[dialect] = struct{}{}
		out = append(out, dialect)
	}
	return out
}
