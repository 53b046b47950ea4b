package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// documentSchema constrains CUE documents before they are decoded. Entry
// attributes are strings; drivers interpret them.
const documentSchema = `
#Entry: {
	kind:   string & =~"^[A-Za-z][A-Za-z0-9]*$"
	name:   string & !=""
	attrs?: [string]: string
	qtext?: string
}

#Bundle: {
	name:         string & !=""
	independent?: bool
	entries: [...#Entry]
}

#Document: {
	revision?: string
	bundles: [...#Bundle]
}
`

// compileSchema compiles the document schema in the loader's context and
// returns the #Document definition.
func compileSchema(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(documentSchema, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile document schema: %w", err)
	}
	def := val.LookupPath(cue.ParsePath("#Document"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("document schema has no #Document: %w", err)
	}
	return def, nil
}
