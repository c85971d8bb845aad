package node

import (
	"encoding/json"
	"testing"

	"github.com/mohitkumar/eduflow/model"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"action with goto":               testParseAction,
		"switch keeps case order":        testParseSwitchOrder,
		"switch cases from forEach":      testParseSwitchForEachCases,
		"query action":                   testParseQuery,
		"start node":                     testParseStart,
		"email fan out":                  testParseEmail,
		"unknown payload":                testParseUnknown,
		"malformed json":                 testParseMalformed,
		"more than one routing rule":     testParseTwoRules,
		"unrecognised routing rule":      testParseBadRule,
		"case target as plain string":    testParseStringCase,
		"decode falls back to tmpl name": testDecodeName,
	} {
		t.Run(scenario, fn)
	}
}

func testParseAction(t *testing.T) {
	n := Parse("N2", []byte(`{"prebuiltKey":"createLiveSession","params":{"title":"#ctx['title']"},"routing":[{"type":"goto","targetNodeId":"N3"}]}`))
	require.NoError(t, n.Err)
	require.Equal(t, Action, n.Kind)
	require.Equal(t, "createLiveSession", n.ActionKey)
	require.Equal(t, "#ctx['title']", n.Params["title"])
	require.Equal(t, Route{Kind: RouteGoto, Target: "N3"}, n.Route)
	require.True(t, n.SideEffecting())
	require.Equal(t, []string{"N3"}, n.Targets())
}

func testParseSwitchOrder(t *testing.T) {
	n := Parse("N3", []byte(`{"dataProcessor":{"config":{"forEach":{"operation":"SWITCH","eval":"#ctx['score']"}}},
		"routing":[{"operation":"SWITCH","cases":{"LOW":{"targetNodeId":"N4"},"HIGH":{"targetNodeId":"N5"},"MID":{"targetNodeId":"N6"}}}]}`))
	require.NoError(t, n.Err)
	require.Equal(t, Switch, n.Kind)
	require.Equal(t, "#ctx['score']", n.Eval)
	require.Equal(t, RouteSwitch, n.Route.Kind)
	require.Equal(t, []Case{{"LOW", "N4"}, {"HIGH", "N5"}, {"MID", "N6"}}, n.Route.Cases)
	require.False(t, n.SideEffecting())
}

func testParseSwitchForEachCases(t *testing.T) {
	n := Parse("N3", []byte(`{"dataProcessor":{"config":{"forEach":{"operation":"SWITCH","eval":"$.score","cases":{"A":"N4"}}}}}`))
	require.NoError(t, n.Err)
	require.Equal(t, []Case{{"A", "N4"}}, n.Route.Cases)
}

func testParseQuery(t *testing.T) {
	n := Parse("Q", []byte(`{"dataProcessor":{"config":{"forEach":{"operation":"QUERY","queryKey":"fetchLearners","params":{"batch":"b1"}}}}}`))
	require.NoError(t, n.Err)
	require.Equal(t, Action, n.Kind)
	require.True(t, n.Query)
	require.Equal(t, "fetchLearners", n.ActionKey)
	require.Equal(t, RouteEnd, n.Route.Kind)
}

func testParseStart(t *testing.T) {
	n := Parse("N1", []byte(`{"outputDataPoints":[{"fieldName":"audience","compute":"T(List).asList('a','b')"}],"routing":[{"type":"goto","targetNodeId":"N2"}]}`))
	require.NoError(t, n.Err)
	require.Equal(t, Start, n.Kind)
	require.Len(t, n.DataPoints, 1)
	require.Equal(t, "audience", n.DataPoints[0].FieldName)
}

func testParseEmail(t *testing.T) {
	n := Parse("E", []byte(`{"dataProcessor":{"config":{"forEach":{"operation":"SEND_EMAIL","params":{"template":"reminder"}}}}}`))
	require.NoError(t, n.Err)
	require.Equal(t, Email, n.Kind)
	require.Equal(t, "SEND_EMAIL", n.ActionKey)
	require.True(t, n.SideEffecting())
}

func testParseUnknown(t *testing.T) {
	n := Parse("U", []byte(`{"something":"else"}`))
	require.NoError(t, n.Err)
	require.Equal(t, Unknown, n.Kind)
	require.Equal(t, "UNKNOWN", n.Kind.String())
}

func testParseMalformed(t *testing.T) {
	n := Parse("M", []byte(`{"prebuiltKey":`))
	var decodeErr NodeDecodeError
	require.ErrorAs(t, n.Err, &decodeErr)
	require.Equal(t, "M", decodeErr.NodeID)
	require.False(t, n.SideEffecting())
}

func testParseTwoRules(t *testing.T) {
	n := Parse("R", []byte(`{"prebuiltKey":"x","routing":[{"type":"goto","targetNodeId":"A"},{"type":"goto","targetNodeId":"B"}]}`))
	require.ErrorAs(t, n.Err, &NodeDecodeError{})
}

func testParseBadRule(t *testing.T) {
	n := Parse("R", []byte(`{"prebuiltKey":"x","routing":[{"type":"jump","targetNodeId":"A"}]}`))
	require.ErrorAs(t, n.Err, &NodeDecodeError{})
}

func testParseStringCase(t *testing.T) {
	n := Parse("S", []byte(`{"dataProcessor":{"config":{"forEach":{"operation":"SWITCH"}}},"routing":[{"operation":"SWITCH","cases":{"X":"B","Y":"C"}}]}`))
	require.NoError(t, n.Err)
	require.Equal(t, []string{"B", "C"}, n.Targets())
}

func testDecodeName(t *testing.T) {
	nodes := DecodeAll([]model.NodeTemplate{
		{Id: "N2", Name: "Live session", Payload: json.RawMessage(`{"prebuiltKey":"createLiveSession"}`)},
	})
	require.Equal(t, "Live session", nodes["N2"].Name)
}
