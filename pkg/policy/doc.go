// Package policy lets rego policies veto entries before the engine
// whitelists them.
//
// Policies are .rego files in package froyo.decision that contribute
// messages to the deny set. The input is the entry, its bundle and the
// decision mode of the run:
//
//	package froyo.decision
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.entry.kind == "Package"
//	    startswith(input.entry.name, "kernel")
//	    msg := sprintf("kernel packages are updated by maintenance jobs: %s", [input.entry.name])
//	}
//
// A Gate that fails to evaluate denies the entry; the engine logs the error
// and leaves the entry incorrect.
package policy
