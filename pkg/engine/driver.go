package engine

import (
	"context"

	"github.com/rs/zerolog"
)

// Driver is a pluggable capability provider that verifies, installs and
// removes entries of the kinds it handles.
//
// Drivers are constructed once per run and called sequentially; they never
// run concurrently with each other. A driver mutates only the states of the
// entries it claims and may annotate those entries' attributes.
type Driver interface {
	// Name identifies the driver in the registry, logs and reports.
	Name() string

	// Deprecated reports whether the driver is deprecated.
	Deprecated() bool

	// Experimental reports whether the driver is experimental.
	Experimental() bool

	// Conflicts names drivers this driver supersedes. The loader drops them.
	Conflicts() []string

	// HandlesEntry reports whether the driver claims the entry.
	HandlesEntry(e *Entry) bool

	// CanVerify reports whether the entry carries enough data to verify.
	CanVerify(e *Entry) bool

	// CanInstall reports whether the entry carries enough data to install.
	CanInstall(e *Entry) bool

	// CanRemove reports whether the driver can remove the (extra) entry.
	CanRemove(e *Entry) bool

	// PrimaryKey identifies the underlying resource, used to detect entries
	// specified more than once.
	PrimaryKey(e *Entry) string

	// Verify checks one entry. An error means verification itself failed;
	// the entry is then treated as incorrect.
	Verify(ctx context.Context, e *Entry, modlist []string) (bool, error)

	// Install installs the entries and records their resulting states.
	Install(ctx context.Context, entries []*Entry, states *States) error

	// Remove removes extra entries.
	Remove(ctx context.Context, entries []*Entry) error

	// Inventory verifies the claimed entries of the given bundles and
	// records their states. It may also refresh Extra.
	Inventory(ctx context.Context, states *States, bundles []*Bundle) error

	// BundleUpdated is called for every bundle with a modified entry.
	BundleUpdated(ctx context.Context, b *Bundle, states *States) error

	// BundleNotUpdated is called for every other selected bundle.
	BundleNotUpdated(ctx context.Context, b *Bundle, states *States) error

	// Modified returns the entries this driver has changed during the run.
	Modified() []*Entry

	// Extra returns entries found on the host but not in the document.
	Extra() []*Entry
}

// DriverEnv is what a driver factory receives at load time.
type DriverEnv struct {
	// Logger is a logger already scoped to the driver.
	Logger zerolog.Logger

	// Options are the operator options of the run.
	Options Options

	// Prompter asks the operator for confirmation in interactive mode.
	Prompter Prompter
}

// Decision returns the operator decision configured for the run.
func (env DriverEnv) Decision() Decision {
	return env.Options.Decision()
}

// Factory constructs a driver. Returning ErrDriverUnavailable skips the
// driver silently; any other error is logged and the driver is skipped.
type Factory func(env DriverEnv) (Driver, error)
