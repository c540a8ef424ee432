// Package graph turns a declarative graph spec into a wired drop.Table, per
// the graph-builder component design: validate, construct, wire, then
// assert the DAG property.
package graph

// NodeSpec is one node descriptor in a graph spec: a mapping from
// configuration keys to values, as described by the data model.
type NodeSpec struct {
	OID  string `json:"oid"`
	Type string `json:"type"`

	// App names the library path for a nativelib app node.
	App string `json:"app,omitempty"`

	Inputs          []string `json:"inputs,omitempty"`
	Outputs         []string `json:"outputs,omitempty"`
	StreamingInputs []string `json:"streamingInputs,omitempty"`
	Consumers       []string `json:"consumers,omitempty"`
	Producers       []string `json:"producers,omitempty"`

	ExpireAfterUse bool   `json:"expireAfterUse,omitempty"`
	ExecutionMode  string `json:"executionMode,omitempty"`

	// Node is the composite-manager partition attribute (§4.7): which
	// child manager this node should be built on. Ignored by the
	// single-node Graph Builder; read by internal/manager/composite.
	Node string `json:"node,omitempty"`

	// MaxSize bounds a data drop's payload, in bytes; 0 is unbounded.
	MaxSize int64 `json:"maxSize,omitempty"`

	// Replicas is the DLM replication hook's target replica count for a
	// data drop; 0 (the default) means no replication is requested.
	Replicas int `json:"replicas,omitempty"`

	// Params carries drop-type-specific configuration: a nativelib app's
	// init parameters, or a file drop's storage directory override.
	Params map[string]string `json:"params,omitempty"`
}

// Spec is a finite sequence of node descriptors, the graph spec format of
// the data model.
type Spec []NodeSpec

// OIDs returns every oid named in spec, for idempotence/overlap checks by
// callers like Session.AddGraphSpec.
func (s Spec) OIDs() []string {
	out := make([]string, 0, len(s))
	for _, n := range s {
		out = append(out, n.OID)
	}
	return out
}
