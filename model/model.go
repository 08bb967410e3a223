package model

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aymerick/raymond"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// SCENARIO DOCUMENT
// ============================================================================

type ScenarioDocument struct {
	APIVersion string            `yaml:"apiVersion"`
	Kind       string            `yaml:"kind"`
	Metadata   DocumentMetadata  `yaml:"metadata"`
	Variables  map[string]string `yaml:"variables,omitempty"`
	Settings   Settings          `yaml:"settings"`
	Scenarios  []Scenario        `yaml:"scenarios"`
	AISummary  AISummary         `yaml:"ai_summary,omitempty"`
}

type DocumentMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	AgentID     string `yaml:"agent_id,omitempty"`
}

// Settings holds document-level defaults. CLI flags take precedence.
type Settings struct {
	Verbose   bool   `yaml:"verbose"`
	TurnRetry int    `yaml:"turn_retry"`
	Parallel  int    `yaml:"parallel"`
	Timeout   string `yaml:"timeout,omitempty"`
}

// AISummary configures the optional LLM-generated executive summary of a run.
// The turn evaluator itself never calls a model; this only post-processes
// the finished suite result.
type AISummary struct {
	Enabled       bool         `yaml:"enabled"`
	Provider      ProviderType `yaml:"provider,omitempty"`
	Model         string       `yaml:"model,omitempty"`
	Token         string       `yaml:"token,omitempty"`
	Secret        string       `yaml:"secret,omitempty"`
	BaseURL       string       `yaml:"baseUrl,omitempty"`
	Version       string       `yaml:"version,omitempty"`
	Location      string       `yaml:"location,omitempty"`
	AuthType      string       `yaml:"auth_type,omitempty"`
}

type ProviderType string

const (
	ProviderOpenAI          ProviderType = "OPENAI"
	ProviderAzure           ProviderType = "AZURE"
	ProviderAnthropic       ProviderType = "ANTHROPIC"
	ProviderAmazonAnthropic ProviderType = "AMAZON-ANTHROPIC"
)

type Scenario struct {
	Name             string     `yaml:"name"`
	Description      string     `yaml:"description,omitempty"`
	Pattern          string     `yaml:"pattern,omitempty"`
	Priority         string     `yaml:"priority,omitempty"`
	Turns            []TurnSpec `yaml:"turns"`
	SessionVariables []Variable `yaml:"session_variables,omitempty"`
}

type TurnSpec struct {
	User      string         `yaml:"user"`
	Expect    ExpectationMap `yaml:"expect"`
	Variables []Variable     `yaml:"variables,omitempty"`
}

// ExpectationMap preserves the author's check order. YAML maps in Go lose
// ordering, so turns decode `expect` through a custom unmarshaller.
type ExpectationMap struct {
	Keys   []string
	Values map[string]interface{}
}

func (m *ExpectationMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expect must be a mapping, got %v", node.Kind)
	}
	m.Keys = make([]string, 0, len(node.Content)/2)
	m.Values = make(map[string]interface{}, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return err
		}
		var value interface{}
		if err := node.Content[i+1].Decode(&value); err != nil {
			return err
		}
		m.Keys = append(m.Keys, key)
		m.Values[key] = value
	}
	return nil
}

func (m ExpectationMap) MarshalYAML() (interface{}, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range m.Keys {
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(k); err != nil {
			return nil, err
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(m.Values[k]); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, keyNode, valNode)
	}
	return out, nil
}

func (m ExpectationMap) Len() int { return len(m.Keys) }

// ============================================================================
// VARIABLES
// ============================================================================

// Variable is a named session/context binding sent to the agent runtime.
type Variable struct {
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type,omitempty" json:"type"`
	Value string `yaml:"value" json:"value"`
}

// ParseVariables parses CLI variable specs of the form "name[:type]=value".
// The type is split at the last colon before the first '='; any '=' after
// the first one belongs to the value.
func ParseVariables(specs []string) ([]Variable, error) {
	variables := make([]Variable, 0, len(specs))
	for _, spec := range specs {
		idx := strings.Index(spec, "=")
		if idx < 0 {
			return nil, fmt.Errorf("invalid variable format %q (expected name[:type]=value)", spec)
		}
		name := strings.TrimSpace(spec[:idx])
		value := strings.TrimSpace(spec[idx+1:])
		varType := "Text"
		if colon := strings.LastIndex(name, ":"); colon >= 0 {
			varType = strings.TrimSpace(name[colon+1:])
			name = strings.TrimSpace(name[:colon])
		}
		if name == "" {
			return nil, fmt.Errorf("invalid variable format %q (empty name)", spec)
		}
		variables = append(variables, Variable{Name: name, Type: varType, Value: value})
	}
	return variables, nil
}

// MergeVariables merges scenario-level variables with overrides (typically
// CLI globals). Overrides win on name collision; non-colliding scenario
// variables are preserved, scenario order first.
func MergeVariables(scenarioVars, overrides []Variable) []Variable {
	if len(overrides) == 0 {
		return scenarioVars
	}
	overrideNames := make(map[string]bool, len(overrides))
	for _, v := range overrides {
		overrideNames[v.Name] = true
	}
	merged := make([]Variable, 0, len(scenarioVars)+len(overrides))
	for _, v := range scenarioVars {
		if !overrideNames[v.Name] {
			merged = append(merged, v)
		}
	}
	merged = append(merged, overrides...)
	return merged
}

// ============================================================================
// RESULT MODEL
// ============================================================================

type CheckResult struct {
	Name     string      `json:"name"`
	Expected interface{} `json:"expected"`
	Actual   interface{} `json:"actual"`
	Passed   bool        `json:"passed"`
	Detail   string      `json:"detail"`
}

type TurnEvaluation struct {
	Passed      bool          `json:"passed"`
	PassCount   int           `json:"pass_count"`
	FailCount   int           `json:"fail_count"`
	TotalChecks int           `json:"total_checks"`
	Checks      []CheckResult `json:"checks"`
}

// TurnRecord is the serialized record of one executed turn inside a
// scenario result.
type TurnRecord struct {
	TurnNumber      int            `json:"turn_number"`
	UserMessage     string         `json:"user_message"`
	AgentText       string         `json:"agent_text"`
	MessageTypes    []string       `json:"message_types"`
	ElapsedMs       float64        `json:"elapsed_ms"`
	HasResponse     bool           `json:"has_response"`
	HasEscalation   bool           `json:"has_escalation"`
	HasActionResult bool           `json:"has_action_result"`
	ActionResults   []interface{}  `json:"action_results,omitempty"`
	Error           string         `json:"error,omitempty"`
	Evaluation      TurnEvaluation `json:"evaluation"`
}

type ScenarioStatus string

const (
	StatusPassed ScenarioStatus = "passed"
	StatusFailed ScenarioStatus = "failed"
	StatusError  ScenarioStatus = "error"
)

type ScenarioResult struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Pattern     string         `json:"pattern,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Status      ScenarioStatus `json:"status"`
	Turns       []TurnRecord   `json:"turns"`
	PassCount   int            `json:"pass_count"`
	FailCount   int            `json:"fail_count"`
	TotalTurns  int            `json:"total_turns"`
	ElapsedMs   float64        `json:"elapsed_ms"`
	Error       string         `json:"error,omitempty"`
}

type SuiteSummary struct {
	TotalScenarios  int `json:"total_scenarios"`
	PassedScenarios int `json:"passed_scenarios"`
	FailedScenarios int `json:"failed_scenarios"`
	ErrorScenarios  int `json:"error_scenarios"`
	TotalTurns      int `json:"total_turns"`
	PassedTurns     int `json:"passed_turns"`
	FailedTurns     int `json:"failed_turns"`
}

// SuiteResult is built once per run, serialized to JSON, and never mutated
// after emission.
type SuiteResult struct {
	RunID           string           `json:"run_id"`
	AgentID         string           `json:"agent_id"`
	ScenarioFile    string           `json:"scenario_file"`
	Timestamp       string           `json:"timestamp"`
	TotalElapsedMs  float64          `json:"total_elapsed_ms"`
	Summary         SuiteSummary     `json:"summary"`
	GlobalVariables []Variable       `json:"global_variables,omitempty"`
	Scenarios       []ScenarioResult `json:"scenarios"`
}

func (s *SuiteResult) AllPassed() bool {
	return s.Summary.FailedScenarios == 0 && s.Summary.ErrorScenarios == 0
}

// ============================================================================
// DOCUMENT PARSING
// ============================================================================

func ParseScenarioDocument(filename string) (*ScenarioDocument, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenarioDocumentFromString(string(data))
}

func ParseScenarioDocumentFromString(definition string) (*ScenarioDocument, error) {
	var doc ScenarioDocument
	if err := yaml.Unmarshal([]byte(definition), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario YAML: %w", err)
	}
	return &doc, nil
}

// ============================================================================
// TEMPLATE CONTEXT
// ============================================================================

func GetAllEnv() map[string]string {
	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}
	return envMap
}

// RenderTemplate safely parses and executes a Raymond template.
// If parsing or execution fails, it returns the input string unchanged.
func RenderTemplate(input string, context map[string]string) string {
	tmpl, err := raymond.Parse(input)
	if err != nil {
		log.Printf("Failed to parse template: %v", err)
		return input
	}

	output, err := tmpl.Exec(context)
	if err != nil {
		log.Printf("Failed to execute template: %v", err)
		return input
	}

	return output
}

// RoundMs rounds an elapsed duration to 0.1 millisecond precision for
// stable report output.
func RoundMs(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return float64(int64(ms*10+0.5)) / 10.0
}
