package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohitkumar/eduflow/model"
)

type Kind int

const (
	Unknown Kind = iota
	Start
	Action
	Switch
	Email
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "START"
	case Action:
		return "ACTION"
	case Switch:
		return "LOGIC"
	case Email:
		return "EMAIL"
	}
	return "UNKNOWN"
}

type RouteKind int

const (
	RouteEnd RouteKind = iota
	RouteGoto
	RouteSwitch
)

type Case struct {
	Key    string
	Target string
}

type Route struct {
	Kind   RouteKind
	Target string
	Cases  []Case
}

type DataPoint struct {
	FieldName string `json:"fieldName"`
	Compute   string `json:"compute,omitempty"`
	Value     any    `json:"value,omitempty"`
}

// Node is a node template payload decoded once at load time. A payload that
// could not be decoded keeps its id and carries the decode failure in Err.
type Node struct {
	ID         string
	Kind       Kind
	Name       string
	ActionKey  string
	Query      bool
	Params     map[string]any
	Eval       string
	DataPoints []DataPoint
	Route      Route
	Err        error
}

// SideEffecting reports whether visiting the node calls out to a collaborator.
func (n Node) SideEffecting() bool {
	return n.Err == nil && (n.Kind == Action || n.Kind == Email)
}

func (n Node) Targets() []string {
	switch n.Route.Kind {
	case RouteGoto:
		return []string{n.Route.Target}
	case RouteSwitch:
		targets := make([]string, 0, len(n.Route.Cases))
		for _, c := range n.Route.Cases {
			targets = append(targets, c.Target)
		}
		return targets
	}
	return nil
}

type NodeDecodeError struct {
	NodeID string
	Reason string
}

func (e NodeDecodeError) Error() string {
	return fmt.Sprintf("node %s can not be decoded: %s", e.NodeID, e.Reason)
}

type forEach struct {
	Operation string         `json:"operation"`
	Eval      string         `json:"eval"`
	QueryKey  string         `json:"queryKey"`
	Params    map[string]any `json:"params"`
	Cases     orderedCases   `json:"cases"`
}

type payload struct {
	PrebuiltKey   string         `json:"prebuiltKey"`
	Name          string         `json:"name"`
	Params        map[string]any `json:"params"`
	DataProcessor *struct {
		Config struct {
			ForEach *forEach `json:"forEach"`
		} `json:"config"`
	} `json:"dataProcessor"`
	OutputDataPoints []DataPoint   `json:"outputDataPoints"`
	Routing          []routingRule `json:"routing"`
}

func (p payload) forEach() *forEach {
	if p.DataProcessor == nil {
		return nil
	}
	return p.DataProcessor.Config.ForEach
}

type routingRule struct {
	Type         string       `json:"type"`
	TargetNodeId string       `json:"targetNodeId"`
	Operation    string       `json:"operation"`
	Cases        orderedCases `json:"cases"`
}

// orderedCases keeps the case order of the stored document so plans render
// branches the way the operator authored them.
type orderedCases []Case

func (c *orderedCases) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("cases must be an object")
	}
	var out orderedCases
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		target, err := caseTarget(raw)
		if err != nil {
			return fmt.Errorf("case %v: %w", keyTok, err)
		}
		out = append(out, Case{Key: keyTok.(string), Target: target})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

func caseTarget(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var target string
		err := json.Unmarshal(raw, &target)
		return target, err
	}
	var obj struct {
		TargetNodeId string `json:"targetNodeId"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return obj.TargetNodeId, nil
}

func Decode(tmpl model.NodeTemplate) Node {
	n := Parse(tmpl.Id, tmpl.Payload)
	if len(n.Name) == 0 {
		n.Name = tmpl.Name
	}
	return n
}

func DecodeAll(tmpls []model.NodeTemplate) map[string]Node {
	nodes := make(map[string]Node, len(tmpls))
	for _, t := range tmpls {
		nodes[t.Id] = Decode(t)
	}
	return nodes
}

func Parse(id string, raw []byte) Node {
	n := Node{ID: id}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		n.Err = NodeDecodeError{NodeID: id, Reason: err.Error()}
		return n
	}
	n.Name = p.Name
	route, err := decodeRoute(p.Routing)
	if err != nil {
		n.Err = NodeDecodeError{NodeID: id, Reason: err.Error()}
		return n
	}
	n.Route = route

	fe := p.forEach()
	switch {
	case len(p.PrebuiltKey) > 0:
		n.Kind = Action
		n.ActionKey = p.PrebuiltKey
		n.Params = p.Params
	case fe != nil && strings.EqualFold(fe.Operation, "SWITCH"):
		n.Kind = Switch
		n.Eval = fe.Eval
		if n.Route.Kind != RouteSwitch && len(fe.Cases) > 0 {
			n.Route = Route{Kind: RouteSwitch, Cases: fe.Cases}
		}
	case fe != nil && strings.EqualFold(fe.Operation, "QUERY"):
		n.Kind = Action
		n.Query = true
		n.ActionKey = fe.QueryKey
		n.Params = fe.Params
	case len(p.OutputDataPoints) > 0:
		n.Kind = Start
		n.DataPoints = p.OutputDataPoints
	case fe != nil && strings.Contains(strings.ToUpper(fe.Operation), "EMAIL"):
		n.Kind = Email
		n.ActionKey = fe.Operation
		n.Params = fe.Params
	default:
		n.Kind = Unknown
	}
	return n
}

func decodeRoute(rules []routingRule) (Route, error) {
	if len(rules) == 0 {
		return Route{Kind: RouteEnd}, nil
	}
	if len(rules) > 1 {
		return Route{}, fmt.Errorf("routing must hold exactly one rule, found %d", len(rules))
	}
	r := rules[0]
	switch {
	case strings.EqualFold(r.Type, "goto"):
		if len(r.TargetNodeId) == 0 {
			return Route{}, fmt.Errorf("goto rule without targetNodeId")
		}
		return Route{Kind: RouteGoto, Target: r.TargetNodeId}, nil
	case strings.EqualFold(r.Operation, "SWITCH"):
		if len(r.Cases) == 0 {
			return Route{}, fmt.Errorf("switch rule without cases")
		}
		return Route{Kind: RouteSwitch, Cases: r.Cases}, nil
	}
	return Route{}, fmt.Errorf("unrecognised routing rule")
}
