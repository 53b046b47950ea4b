package policy

// DenyQuery is the rule the gate evaluates. Each message in the deny set
// vetoes the entry.
const DenyQuery = "data.froyo.decision.deny"

// Policy is one rego module.
type Policy struct {
	// Name is the unique name of the policy, taken from the file name.
	Name string `json:"name"`

	// Description is the leading comment block of the module.
	Description string `json:"description,omitempty"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`
}

// Input is the document a policy sees as input.
type Input struct {
	Entry  InputEntry `json:"entry"`
	Bundle string     `json:"bundle"`

	// Mode is the decision mode of the run.
	Mode string `json:"mode"`
}

// InputEntry describes the entry under evaluation.
type InputEntry struct {
	Kind  string            `json:"kind"`
	Name  string            `json:"name"`
	Attrs map[string]string `json:"attrs"`
}
