// Package engine is the client-side execution engine of the froyo agent.
//
// Given a desired-state Document (named bundles of typed entries) and a set of
// loaded tool drivers, the engine works out which entries are currently
// correct, decides which incorrect entries may be changed under the operator's
// policy, runs bundle prerequisite actions, dispatches install and remove calls
// to the owning drivers and produces a Report of the run.
//
// # Pipeline
//
// Execute runs a fixed, linear sequence of phases:
//
//	Inventory -> InstallImportant -> Decide -> Install -> Remove -> [ReInventory] -> Report
//
// ReInventory only runs when some driver modified an entry, the operator asked
// for a bulletproof run (kevlar) and the run is not a dry run. Install contains
// one bounded corrective pass for entries clobbered by other changes in the
// same bundle. The phases can also be invoked one by one; invoking a phase
// before its predecessor returns ErrPhaseOrder.
//
// # Drivers
//
// A Driver claims entries through HandlesEntry. Every entry must be claimed
// by exactly one driver to be actionable: entries nobody claims are recorded
// as unhandled and entries claimed by several drivers are recorded as
// conflicts. Neither is ever whitelisted.
//
// Every driver call runs behind a guard that recovers panics, applies the
// optional per-call timeout and logs failures with the driver, phase and
// entry. A failing driver never aborts a phase for the other drivers.
//
// # Decisions
//
// The whitelist is the set of entries approved for change during this run and
// the blacklist the set of incorrect entries deliberately left alone. They are
// shaped by the decision list (whitelist or blacklist mode), the bundle
// selection, prerequisite action gating, an optional EntryGate (policy) and,
// in interactive mode, a Prompter. Entries are always listed in Kind:Name
// order when prompted or logged.
package engine
