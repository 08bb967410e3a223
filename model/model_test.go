package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `
apiVersion: v1
kind: ScenarioSuite
metadata:
  name: order-support
  agent_id: 0XxSB0000000aaa
variables:
  ORDER_ID: "12345"
settings:
  turn_retry: 1
  parallel: 2
scenarios:
  - name: order status lookup
    description: happy path
    priority: high
    session_variables:
      - name: $Context.AccountId
        type: Text
        value: "001XX"
    turns:
      - user: "Where is my order {{ORDER_ID}}?"
        expect:
          response_not_empty: true
          topic_contains: order
          action_invoked: Get_Order_Status
      - user: "Thanks, that's all."
        expect:
          conversation_resolved: true
`

func TestParseScenarioDocumentFromString(t *testing.T) {
	doc, err := ParseScenarioDocumentFromString(sampleDocument)
	require.NoError(t, err)

	assert.Equal(t, "order-support", doc.Metadata.Name)
	assert.Equal(t, "0XxSB0000000aaa", doc.Metadata.AgentID)
	assert.Equal(t, "12345", doc.Variables["ORDER_ID"])
	assert.Equal(t, 1, doc.Settings.TurnRetry)
	assert.Equal(t, 2, doc.Settings.Parallel)

	require.Len(t, doc.Scenarios, 1)
	sc := doc.Scenarios[0]
	assert.Equal(t, "order status lookup", sc.Name)
	assert.Equal(t, "high", sc.Priority)
	require.Len(t, sc.SessionVariables, 1)
	assert.Equal(t, "$Context.AccountId", sc.SessionVariables[0].Name)
	require.Len(t, sc.Turns, 2)
}

func TestExpectationMapPreservesOrder(t *testing.T) {
	doc, err := ParseScenarioDocumentFromString(sampleDocument)
	require.NoError(t, err)

	expect := doc.Scenarios[0].Turns[0].Expect
	assert.Equal(t, []string{"response_not_empty", "topic_contains", "action_invoked"}, expect.Keys)
	assert.Equal(t, true, expect.Values["response_not_empty"])
	assert.Equal(t, "order", expect.Values["topic_contains"])
	assert.Equal(t, "Get_Order_Status", expect.Values["action_invoked"])
	assert.Equal(t, 3, expect.Len())
}

func TestParseScenarioDocumentInvalidYAML(t *testing.T) {
	_, err := ParseScenarioDocumentFromString("scenarios: [\n")
	require.Error(t, err)
}

func TestParseVariables(t *testing.T) {
	tests := []struct {
		name     string
		specs    []string
		expected []Variable
		wantErr  bool
	}{
		{
			name:     "plain name value",
			specs:    []string{"$Context.AccountId=001XX"},
			expected: []Variable{{Name: "$Context.AccountId", Type: "Text", Value: "001XX"}},
		},
		{
			name:     "explicit type",
			specs:    []string{"Count:Number=5"},
			expected: []Variable{{Name: "Count", Type: "Number", Value: "5"}},
		},
		{
			name:     "value keeps extra equals",
			specs:    []string{"Query=a=b=c"},
			expected: []Variable{{Name: "Query", Type: "Text", Value: "a=b=c"}},
		},
		{
			name:     "whitespace stripped",
			specs:    []string{"  Name  =  Ada  "},
			expected: []Variable{{Name: "Name", Type: "Text", Value: "Ada"}},
		},
		{
			name:    "missing equals",
			specs:   []string{"NoValue"},
			wantErr: true,
		},
		{
			name:    "empty name",
			specs:   []string{"=value"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars, err := ParseVariables(tt.specs)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid variable format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, vars)
		})
	}
}

func TestMergeVariables(t *testing.T) {
	scenario := []Variable{
		{Name: "A", Type: "Text", Value: "scenario-a"},
		{Name: "B", Type: "Text", Value: "scenario-b"},
	}
	overrides := []Variable{
		{Name: "B", Type: "Text", Value: "override-b"},
		{Name: "C", Type: "Text", Value: "override-c"},
	}

	merged := MergeVariables(scenario, overrides)
	require.Len(t, merged, 3)
	assert.Equal(t, "A", merged[0].Name)
	assert.Equal(t, "override-b", merged[1].Value)
	assert.Equal(t, "override-c", merged[2].Value)

	assert.Equal(t, scenario, MergeVariables(scenario, nil))
}

func TestRenderTemplate(t *testing.T) {
	ctx := map[string]string{"ORDER_ID": "12345"}
	assert.Equal(t, "Order 12345 please", RenderTemplate("Order {{ORDER_ID}} please", ctx))

	// Broken templates fall back to the raw input.
	assert.Equal(t, "Order {{", RenderTemplate("Order {{", ctx))
}

func TestSuiteResultAllPassed(t *testing.T) {
	suite := &SuiteResult{Summary: SuiteSummary{TotalScenarios: 2, PassedScenarios: 2}}
	assert.True(t, suite.AllPassed())

	suite.Summary.FailedScenarios = 1
	assert.False(t, suite.AllPassed())

	suite.Summary.FailedScenarios = 0
	suite.Summary.ErrorScenarios = 1
	assert.False(t, suite.AllPassed())
}

func TestRoundMs(t *testing.T) {
	assert.Equal(t, 1234.6, RoundMs(1234567*time.Microsecond))
	assert.Equal(t, 0.0, RoundMs(0))
}
