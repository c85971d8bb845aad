package interpreter

import (
	"fmt"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/node"
)

type StepType string

const STEP_START StepType = "START"
const STEP_ACTION StepType = "ACTION"
const STEP_LOGIC StepType = "LOGIC"
const STEP_EMAIL StepType = "EMAIL"
const STEP_UNKNOWN StepType = "UNKNOWN"
const STEP_END StepType = "END"
const STEP_ERROR StepType = "ERROR"

const END_OF_FLOW = "End of Flow"
const ERROR_PARSING_NODE = "Error Parsing Node"

type Step struct {
	NodeID      string         `json:"nodeId,omitempty"`
	Type        StepType       `json:"type"`
	Description string         `json:"description"`
	ActionKey   string         `json:"actionKey,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	Branches    []Branch       `json:"branches,omitempty"`
}

type Branch struct {
	CaseKey   string `json:"caseKey"`
	Condition string `json:"condition"`
	Steps     []Step `json:"steps"`
}

type WorkflowGraph struct {
	Entry string
	Nodes map[string]node.Node
}

type Interpreter struct {
	labels action.Labels
}

func New(labels action.Labels) *Interpreter {
	return &Interpreter{labels: labels}
}

// ParseAll renders the dry-run plan of every workflow. Nothing is invoked.
func (i *Interpreter) ParseAll(graphs map[string]WorkflowGraph) map[string][]Step {
	plans := make(map[string][]Step, len(graphs))
	for wfId, g := range graphs {
		plans[wfId] = i.Plan(g.Entry, g.Nodes)
	}
	return plans
}

func (i *Interpreter) Plan(startID string, nodes map[string]node.Node) []Step {
	return i.buildSequence(startID, nodes, path{})
}

func (i *Interpreter) buildSequence(id string, nodes map[string]node.Node, visited path) []Step {
	var steps []Step
	for {
		if visited.has(id) {
			return append(steps, endStep())
		}
		visited = visited.extend(id)
		n, err := lookup(nodes, id)
		if err != nil {
			return append(steps, errorStep(id, err))
		}
		steps = append(steps, i.describe(n))

		cases := follow(n)
		switch n.Route.Kind {
		case node.RouteEnd:
			return append(steps, endStep())
		case node.RouteGoto:
			id = cases[0].Target
		case node.RouteSwitch:
			branches := make([]Branch, 0, len(cases))
			for _, c := range cases {
				branches = append(branches, Branch{
					CaseKey:   c.Key,
					Condition: condition(n.Eval, c.Key),
					Steps:     i.buildSequence(c.Target, nodes, visited),
				})
			}
			if n.Kind == node.Switch {
				steps[len(steps)-1].Branches = branches
			} else {
				steps = append(steps, Step{NodeID: n.ID, Type: STEP_LOGIC, Description: "Conditional Branch", Branches: branches})
			}
			return steps
		}
	}
}

func (i *Interpreter) describe(n node.Node) Step {
	step := Step{NodeID: n.ID}
	switch n.Kind {
	case node.Start:
		step.Type = STEP_START
		step.Description = "Start of Flow"
		step.Data = startData(n.DataPoints)
	case node.Action:
		label, ok := i.labels.Label(n.ActionKey)
		switch {
		case ok:
			step.Type = STEP_ACTION
			step.Description = label
		case n.Query:
			step.Type = STEP_UNKNOWN
			step.Description = fmt.Sprintf("Unknown Query %s", n.ActionKey)
		default:
			step.Type = STEP_ACTION
			step.Description = n.ActionKey
		}
		step.ActionKey = n.ActionKey
		step.Params = SimplifyParams(n.Params)
	case node.Switch:
		step.Type = STEP_LOGIC
		step.Description = "Conditional Branch"
		if len(n.Eval) > 0 {
			step.Description = "Check " + Simplify(n.Eval)
		}
	case node.Email:
		step.Type = STEP_EMAIL
		step.Description = "Send Email"
		if label, ok := i.labels.Label(n.ActionKey); ok {
			step.Description = label
		}
		step.ActionKey = n.ActionKey
		step.Params = SimplifyParams(n.Params)
	default:
		step.Type = STEP_UNKNOWN
		step.Description = "Unknown Node"
	}
	return step
}

func startData(points []node.DataPoint) map[string]any {
	if len(points) == 0 {
		return nil
	}
	data := make(map[string]any, len(points))
	for _, p := range points {
		switch {
		case p.Value != nil:
			data[p.FieldName] = simplifyValue(p.Value)
		default:
			data[p.FieldName] = Simplify(p.Compute)
		}
	}
	return data
}

func condition(eval string, caseKey string) string {
	if len(eval) == 0 {
		return "Case " + caseKey
	}
	return Simplify(eval) + " == " + caseKey
}

func endStep() Step {
	return Step{Type: STEP_END, Description: END_OF_FLOW}
}

func errorStep(id string, err error) Step {
	return Step{NodeID: id, Type: STEP_ERROR, Description: ERROR_PARSING_NODE, Error: err.Error()}
}
