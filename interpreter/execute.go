package interpreter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/node"
	"github.com/oliveagle/jsonpath"
	"go.uber.org/zap"
)

type VisitStatus string

const VISIT_SUCCESS VisitStatus = "SUCCESS"
const VISIT_FAILED VisitStatus = "FAILED"
const VISIT_SKIPPED VisitStatus = "SKIPPED"

type NodeVisit struct {
	NodeID  string
	Kind    node.Kind
	Status  VisitStatus
	Output  map[string]any
	Deduped bool
	Err     error
}

// ActionFunc performs the side effect of an action or email node. deduped is
// true when the effect had already happened and was not repeated.
type ActionFunc func(ctx context.Context, n node.Node, params map[string]any) (out map[string]any, deduped bool, err error)

type Hooks struct {
	Invoke ActionFunc
	// Record is called once per visited node, failures included. An error
	// stops the walk and is returned from Execute.
	Record func(ctx context.Context, visit NodeVisit) error
}

type Result struct {
	Visits []NodeVisit
	Data   map[string]any

	// Terminal is false when the walk stopped on a route it could not follow.
	Terminal bool
}

// Execute walks the same routes Plan renders but follows a single case at
// every switch and performs side effects through hooks. Node failures are
// recorded and the walk continues along the node's routing.
func (i *Interpreter) Execute(ctx context.Context, startID string, nodes map[string]node.Node, data map[string]any, hooks Hooks) (Result, error) {
	res := Result{Data: copyData(data)}
	visited := path{}
	id := startID
	for {
		if visited.has(id) {
			res.Terminal = true
			return res, nil
		}
		visited = visited.extend(id)

		n, err := lookup(nodes, id)
		if err != nil {
			visit := NodeVisit{NodeID: id, Kind: n.Kind, Status: VISIT_FAILED, Err: err}
			return res, i.record(ctx, &res, hooks, visit)
		}
		visit, caseKey := i.visit(ctx, n, res.Data, hooks)
		if err := i.record(ctx, &res, hooks, visit); err != nil {
			return res, err
		}

		cases := follow(n)
		switch n.Route.Kind {
		case node.RouteEnd:
			res.Terminal = true
			return res, nil
		case node.RouteGoto:
			id = cases[0].Target
		case node.RouteSwitch:
			c, ok := pick(cases, caseKey)
			if !ok {
				logger.Info("no case matched, flow ends", zap.String("node", n.ID), zap.String("value", caseKey))
				res.Terminal = true
				return res, nil
			}
			id = c.Target
		}
	}
}

func (i *Interpreter) record(ctx context.Context, res *Result, hooks Hooks, visit NodeVisit) error {
	res.Visits = append(res.Visits, visit)
	if hooks.Record == nil {
		return nil
	}
	return hooks.Record(ctx, visit)
}

func (i *Interpreter) visit(ctx context.Context, n node.Node, data map[string]any, hooks Hooks) (NodeVisit, string) {
	visit := NodeVisit{NodeID: n.ID, Kind: n.Kind, Status: VISIT_SUCCESS}
	caseKey := ""
	switch n.Kind {
	case node.Start:
		seed(n.DataPoints, data)
	case node.Action, node.Email:
		if hooks.Invoke == nil {
			visit.Status = VISIT_SKIPPED
			break
		}
		params := action.ResolveParams(data, n.Params)
		out, deduped, err := hooks.Invoke(ctx, n, params)
		visit.Deduped = deduped
		if err != nil {
			visit.Status = VISIT_FAILED
			visit.Err = err
			break
		}
		visit.Output = out
		if out != nil {
			data[n.ID] = out
		}
	case node.Switch:
		value, err := Evaluate(n.Eval, data)
		if err != nil {
			visit.Status = VISIT_FAILED
			visit.Err = err
			value = defaultCase
		}
		caseKey = value
		visit.Output = map[string]any{"case": value}
	default:
		visit.Status = VISIT_SKIPPED
	}
	if n.Kind != node.Switch && n.Route.Kind == node.RouteSwitch {
		caseKey = defaultCase
	}
	return visit, caseKey
}

// Evaluate resolves a switch expression against the run data and renders
// the result as a case key. Expressions that are not JSONPath are simplified
// to a field name first.
func Evaluate(eval string, data map[string]any) (string, error) {
	expr := strings.TrimSpace(eval)
	if len(expr) == 0 {
		return defaultCase, nil
	}
	expr = strings.TrimSuffix(strings.TrimPrefix(expr, "{"), "}")
	if !strings.HasPrefix(expr, "$") {
		expr = "$." + Simplify(expr)
	}
	value, err := jsonpath.JsonPathLookup(data, expr)
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", eval, err)
	}
	return toCaseKey(value), nil
}

func toCaseKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.Itoa(int(v))
	case float64:
		return strconv.Itoa(int(v))
	case nil:
		return defaultCase
	}
	return fmt.Sprintf("%v", value)
}

func seed(points []node.DataPoint, data map[string]any) {
	for _, p := range points {
		if p.Value != nil {
			data[p.FieldName] = p.Value
			continue
		}
		if !strings.HasPrefix(p.Compute, "$") {
			continue
		}
		if v, err := jsonpath.JsonPathLookup(data, p.Compute); err == nil {
			data[p.FieldName] = v
		}
	}
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
