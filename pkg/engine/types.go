package engine

import (
	"maps"
	"strings"
)

// Well-known entry kinds.
const (
	KindAction     = "Action"
	KindPath       = "Path"
	KindPackage    = "Package"
	KindService    = "Service"
	KindPOSIXUser  = "POSIXUser"
	KindPOSIXGroup = "POSIXGroup"
)

// Well-known entry attributes.
const (
	AttrType      = "type"
	AttrImportant = "important"
	AttrTiming    = "timing"
	AttrWhen      = "when"
	AttrFailure   = "failure"
)

// Timing controls when an Action entry runs relative to its bundle.
type Timing string

const (
	// TimingPre runs the action before the bundle's entries are installed.
	TimingPre Timing = "pre"

	// TimingPost runs the action after the bundle has been processed.
	TimingPost Timing = "post"

	// TimingBoth runs the action in both places.
	TimingBoth Timing = "both"
)

// IsPre reports whether the action runs as a prerequisite.
func (t Timing) IsPre() bool {
	return t == TimingPre || t == TimingBoth
}

// IsPost reports whether the action runs after the bundle.
func (t Timing) IsPost() bool {
	return t == TimingPost || t == TimingBoth
}

// When controls whether an Action entry depends on its bundle being modified.
type When string

const (
	// WhenAlways runs the action regardless of bundle modification.
	WhenAlways When = "always"

	// WhenModified runs the action only if the bundle was modified.
	WhenModified When = "modified"
)

// Entry is one desired-state item, identified by its kind and name.
//
// Entries are treated as mutable scratch objects during a run: drivers may
// annotate Attrs with current_* diagnostics and fill in Prompt. The engine
// never deletes or reparents them.
type Entry struct {
	// Kind is the entry tag, for example Path, Package or Service.
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	// Name identifies the entry within its kind.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Attrs is the kind-specific attribute bag, interpreted by drivers.
	Attrs map[string]string `json:"attrs,omitempty" yaml:"attrs,omitempty"`

	// Prompt is a human readable description of a pending change.
	Prompt string `json:"qtext,omitempty" yaml:"qtext,omitempty"`
}

// ID returns the Kind:Name identity used for ordering and logging.
func (e *Entry) ID() string {
	return e.Kind + ":" + e.Name
}

// Label returns Kind:type:Name, or Kind:Name for untyped entries.
func (e *Entry) Label() string {
	if t := e.Type(); t != "" {
		return e.Kind + ":" + t + ":" + e.Name
	}
	return e.ID()
}

// Attr returns the named attribute or the empty string.
func (e *Entry) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}

// SetAttr sets an attribute, allocating the bag if needed.
func (e *Entry) SetAttr(key, value string) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[key] = value
}

// Type returns the type attribute.
func (e *Entry) Type() string {
	return e.Attr(AttrType)
}

// Important reports whether the entry belongs to the important pre-pass.
func (e *Entry) Important() bool {
	return e.Kind == KindPath && strings.EqualFold(e.Attr(AttrImportant), "true")
}

// Timing returns the action timing.
func (e *Entry) Timing() Timing {
	return Timing(e.Attr(AttrTiming))
}

// When returns the action run condition.
func (e *Entry) When() When {
	return When(e.Attr(AttrWhen))
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Attrs != nil {
		c.Attrs = maps.Clone(e.Attrs)
	}
	return &c
}

// Bundle is an ordered group of entries. Action entries inside a bundle act
// as its prerequisites and post-actions.
type Bundle struct {
	// Name is the bundle name used by the bundle selectors.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Independent marks a bundle whose entries are not bundle-scoped. It never
	// counts as modified and is never prerequisite-gated.
	Independent bool `json:"independent,omitempty" yaml:"independent,omitempty"`

	// Entries are the bundle's entries in document order.
	Entries []*Entry `json:"entries" yaml:"entries" validate:"dive,required"`
}

// Actions returns the bundle's Action entries in document order.
func (b *Bundle) Actions() []*Entry {
	var actions []*Entry
	for _, e := range b.Entries {
		if e.Kind == KindAction {
			actions = append(actions, e)
		}
	}
	return actions
}

// Contains reports whether the given entry belongs to the bundle.
func (b *Bundle) Contains(e *Entry) bool {
	for _, x := range b.Entries {
		if x == e {
			return true
		}
	}
	return false
}

// Document is the desired-state document for one host.
type Document struct {
	// Revision is the document-level revision marker.
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`

	// Bundles are the document's bundles in order.
	Bundles []*Bundle `json:"bundles" yaml:"bundles" validate:"dive,required"`
}

// Entries returns every entry of the document in document order.
func (d *Document) Entries() []*Entry {
	return entriesOf(d.Bundles)
}

// Bundle returns the named bundle or nil.
func (d *Document) Bundle(name string) *Bundle {
	for _, b := range d.Bundles {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func entriesOf(bundles []*Bundle) []*Entry {
	var entries []*Entry
	for _, b := range bundles {
		entries = append(entries, b.Entries...)
	}
	return entries
}
