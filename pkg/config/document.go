package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/agent/pkg/engine"
)

// Document formats.
const (
	FormatYAML = "yaml"
	FormatCUE  = "cue"
)

// DocumentLoader reads desired-state documents from YAML or CUE.
type DocumentLoader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewDocumentLoader creates a document loader.
func NewDocumentLoader() (*DocumentLoader, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}
	return &DocumentLoader{
		ctx:       ctx,
		schema:    schema,
		validator: newValidator(),
	}, nil
}

// FormatOf picks the document format from a file extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported document format: %s", path)
	}
}

// Load reads and validates the document at path.
func (l *DocumentLoader) Load(path string) (*engine.Document, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return l.Decode(path, data, format)
}

// Decode parses and validates a document. Source names the document in
// errors.
func (l *DocumentLoader) Decode(source string, data []byte, format string) (*engine.Document, error) {
	var (
		doc  *engine.Document
		errs []ValidationError
	)
	switch format {
	case FormatYAML:
		doc, errs = l.decodeYAML(source, data)
	case FormatCUE:
		doc, errs = l.decodeCUE(source, data)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", format)
	}
	if len(errs) == 0 {
		errs = l.validate(doc)
	}
	if len(errs) > 0 {
		return nil, &DocumentError{Source: source, Errors: errs}
	}
	return doc, nil
}

func (l *DocumentLoader) decodeYAML(source string, data []byte) (*engine.Document, []ValidationError) {
	var doc engine.Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("document is empty")
		}
		return nil, []ValidationError{{File: source, Message: err.Error()}}
	}
	return &doc, nil
}

// decodeCUE compiles the document, unifies it with the #Document schema and
// decodes the concrete result.
func (l *DocumentLoader) decodeCUE(source string, data []byte) (*engine.Document, []ValidationError) {
	val := l.ctx.CompileBytes(data, cue.Filename(source))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var doc engine.Document
	if err := unified.Decode(&doc); err != nil {
		return nil, []ValidationError{{File: source, Message: fmt.Sprintf("failed to decode document: %v", err)}}
	}
	return &doc, nil
}

func (l *DocumentLoader) validate(doc *engine.Document) []ValidationError {
	err := l.validator.Struct(doc)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
		})
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
