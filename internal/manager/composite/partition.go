package composite

import (
	"github.com/heliograph/dfms/internal/dropgraph/graph"
	"github.com/heliograph/dfms/pkg/errkind"
)

// crossEdge is one inter-node edge discovered while partitioning a graph
// spec by its node attribute: lhs/rhs follow Session.LinkGraphParts'
// argument order for linkType, so resolving it is a direct call to
// Manager.LinkGraphParts once every partition has been shipped.
type crossEdge struct {
	lhsOID, rhsOID, linkType string
}

// partitionSpec splits spec into one sub-spec per owning child address
// (NodeSpec.Node, per spec.md §4.7), stripping inter-node edges out of each
// partition (the referenced oid would not exist in the other address's
// table) and returning them instead as crossEdges for the caller to
// reconnect via LinkGraphParts once every partition is deployed.
//
// Only consumption-direction edges (input, streamingInput, consumer) may
// cross a node boundary -- they're resolved by stubbing the remote oid into
// the consuming child, whose stub takes the real producer's terminal status
// once a forwarder started at deploy observes it (see
// Manager.LinkGraphParts). Production-direction edges (output, producer)
// crossing a boundary have no local target to write into and are rejected.
func partitionSpec(spec graph.Spec) (map[string]graph.Spec, []crossEdge, error) {
	ownerAddr := make(map[string]string, len(spec))
	for _, n := range spec {
		if n.OID == "" {
			return nil, nil, errkind.InvalidGraph("node descriptor missing oid")
		}
		if n.Node == "" {
			return nil, nil, errkind.InvalidGraph("node missing composite partition attribute (node)", n.OID)
		}
		ownerAddr[n.OID] = n.Node
	}

	parts := make(map[string]graph.Spec)
	var cross []crossEdge

	sameAddr := func(oids []string, addr string) []string {
		out := make([]string, 0, len(oids))
		for _, oid := range oids {
			if ownerAddr[oid] == addr {
				out = append(out, oid)
			}
		}
		return out
	}

	for _, n := range spec {
		addr := n.Node

		for _, out := range n.Outputs {
			if ownerAddr[out] != addr {
				return nil, nil, errkind.InvalidRelationship("app output crosses node boundary", n.OID, out)
			}
		}
		for _, p := range n.Producers {
			if ownerAddr[p] != addr {
				return nil, nil, errkind.InvalidRelationship("producer crosses node boundary", n.OID, p)
			}
		}

		local := n
		local.Inputs = sameAddr(n.Inputs, addr)
		local.StreamingInputs = sameAddr(n.StreamingInputs, addr)
		local.Consumers = sameAddr(n.Consumers, addr)
		parts[addr] = append(parts[addr], local)

		for _, in := range n.Inputs {
			if ownerAddr[in] != addr {
				cross = append(cross, crossEdge{lhsOID: n.OID, rhsOID: in, linkType: "input"})
			}
		}
		for _, in := range n.StreamingInputs {
			if ownerAddr[in] != addr {
				cross = append(cross, crossEdge{lhsOID: n.OID, rhsOID: in, linkType: "streamingInput"})
			}
		}
		for _, c := range n.Consumers {
			if ownerAddr[c] != addr {
				cross = append(cross, crossEdge{lhsOID: n.OID, rhsOID: c, linkType: "consumer"})
			}
		}
	}

	return parts, cross, nil
}
