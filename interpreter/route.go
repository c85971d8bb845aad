package interpreter

import (
	"strings"

	"github.com/mohitkumar/eduflow/node"
)

// path is the set of node ids on the current traversal path. It is never
// mutated in place: extend returns a new set, so every branch owns its copy.
type path map[string]struct{}

func (p path) has(id string) bool {
	_, ok := p[id]
	return ok
}

func (p path) extend(id string) path {
	next := make(path, len(p)+1)
	for k := range p {
		next[k] = struct{}{}
	}
	next[id] = struct{}{}
	return next
}

func lookup(nodes map[string]node.Node, id string) (node.Node, error) {
	n, ok := nodes[id]
	if !ok {
		return node.Node{ID: id}, node.NodeDecodeError{NodeID: id, Reason: "node not found in workflow"}
	}
	if n.Err != nil {
		return n, n.Err
	}
	return n, nil
}

// follow resolves the routing of n into the cases traversal may continue
// with. A goto route yields one case with an empty key and an ended route
// yields none.
func follow(n node.Node) []node.Case {
	switch n.Route.Kind {
	case node.RouteGoto:
		return []node.Case{{Target: n.Route.Target}}
	case node.RouteSwitch:
		return n.Route.Cases
	}
	return nil
}

const defaultCase = "default"

// pick selects the case matching value, falling back to a "default" case.
func pick(cases []node.Case, value string) (node.Case, bool) {
	for _, c := range cases {
		if c.Key == value {
			return c, true
		}
	}
	for _, c := range cases {
		if len(value) > 0 && strings.EqualFold(c.Key, value) {
			return c, true
		}
	}
	for _, c := range cases {
		if strings.EqualFold(c.Key, defaultCase) {
			return c, true
		}
	}
	return node.Case{}, false
}
