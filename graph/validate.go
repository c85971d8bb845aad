package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/node"
)

type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	return "invalid workflow: " + strings.Join(e.Problems, "; ")
}

// Validate reports authoring mistakes: undecodable payloads, unknown node
// shapes, routing to nodes outside the graph and a missing entry node. The
// interpreter tolerates all of these; this is for operators.
func Validate(entry string, nodes map[string]node.Node) error {
	var problems []string
	if _, ok := nodes[entry]; !ok {
		problems = append(problems, fmt.Sprintf("entry node %s not in graph", entry))
	}
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := nodes[id]
		if n.Err != nil {
			problems = append(problems, n.Err.Error())
			continue
		}
		if n.Kind == node.Unknown {
			problems = append(problems, fmt.Sprintf("node %s has an unrecognised payload", id))
		}
		for _, target := range n.Targets() {
			if _, ok := nodes[target]; !ok {
				problems = append(problems, fmt.Sprintf("node %s routes to missing node %s", id, target))
			}
		}
	}
	if len(problems) > 0 {
		return ValidationError{Problems: problems}
	}
	return nil
}

// ValidateBundle validates the graph a bundle would produce once saved.
func ValidateBundle(bundle model.WorkflowBundle) error {
	if len(bundle.Workflow.Id) == 0 {
		return ValidationError{Problems: []string{"workflow id is required"}}
	}
	if len(bundle.Mappings) == 0 {
		return ValidationError{Problems: []string{"workflow has no node mappings"}}
	}
	entry := bundle.Mappings[0]
	for _, m := range bundle.Mappings {
		if m.NodeOrder < entry.NodeOrder {
			entry = m
		}
	}
	return Validate(entry.NodeTemplateId, node.DecodeAll(bundle.Nodes))
}
