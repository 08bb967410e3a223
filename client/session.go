package client

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/life4/genesis/slices"

	"github.com/mykhaliev/agent-scenario-runner/logger"
)

// AgentMessage is one message from the agent's reply. Unrecognized or partial
// payloads degrade to safe defaults rather than failing the turn.
type AgentMessage struct {
	Type            string        `json:"type"`
	ID              string        `json:"id,omitempty"`
	Text            string        `json:"message,omitempty"`
	IsContentSafe   bool          `json:"isContentSafe"`
	Result          []interface{} `json:"result,omitempty"`
	CitedReferences []interface{} `json:"citedReferences,omitempty"`
}

func (m AgentMessage) String() string {
	text := m.Text
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return fmt.Sprintf("[%s] %s", m.Type, text)
}

func parseMessage(raw interface{}) AgentMessage {
	msg := AgentMessage{Type: "Unknown", IsContentSafe: true}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return msg
	}
	if v, ok := obj["type"].(string); ok && v != "" {
		msg.Type = v
	}
	if v, ok := obj["id"].(string); ok {
		msg.ID = v
	}
	if v, ok := obj["message"].(string); ok {
		msg.Text = v
	}
	if v, ok := obj["isContentSafe"].(bool); ok {
		msg.IsContentSafe = v
	}
	if v, ok := obj["result"].([]interface{}); ok {
		msg.Result = v
	}
	if v, ok := obj["citedReferences"].([]interface{}); ok {
		msg.CitedReferences = v
	}
	return msg
}

func parseMessages(response map[string]interface{}) []AgentMessage {
	raw, _ := response["messages"].([]interface{})
	return slices.Map(raw, parseMessage)
}

// TurnResult captures one completed exchange: what was sent, everything that
// came back, and how long the round trip took.
type TurnResult struct {
	SequenceID  int                    `json:"sequence_id"`
	UserMessage string                 `json:"user_message"`
	Messages    []AgentMessage         `json:"raw_messages"`
	RawResponse map[string]interface{} `json:"-"`
	ElapsedMs   float64                `json:"elapsed_ms"`
	Error       string                 `json:"error,omitempty"`
}

// Text joins the text of every non-escalation message. Escalation messages
// carry routing boilerplate, not agent prose, so they are excluded from the
// transcript view the checks read.
func (t *TurnResult) Text() string {
	parts := []string{}
	for _, m := range t.Messages {
		if m.Type != "Escalation" && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasResponse reports whether the transcript view is non-empty. Escalation
// boilerplate alone does not count as a response.
func (t *TurnResult) HasResponse() bool {
	return t.Text() != ""
}

func (t *TurnResult) HasEscalation() bool {
	return slices.Any(t.Messages, func(m AgentMessage) bool { return m.Type == "Escalation" })
}

func (t *TurnResult) HasActionResult() bool {
	return slices.Any(t.Messages, func(m AgentMessage) bool { return len(m.Result) > 0 })
}

func (t *TurnResult) MessageTypes() []string {
	return slices.Map(t.Messages, func(m AgentMessage) string { return m.Type })
}

// ActionResults concatenates the result payloads of every message in order.
func (t *TurnResult) ActionResults() []interface{} {
	out := []interface{}{}
	for _, m := range t.Messages {
		out = append(out, m.Result...)
	}
	return out
}

// Session is one conversation with an agent. Sessions are not safe for
// concurrent use; each scenario drives its own.
type Session struct {
	client    *Client
	SessionID string
	AgentID   string

	sequenceID      int
	turns           []*TurnResult
	initialMessages []AgentMessage
	ended           bool
}

// StartSession opens a conversation with the agent and captures its greeting.
func (c *Client) StartSession(ctx context.Context, agentID string, variables []map[string]interface{}) (*Session, error) {
	if agentID == "" {
		agentID = os.Getenv("SF_AGENT_ID")
	}
	if agentID == "" {
		return nil, &APIError{Message: "agent_id is required (set SF_AGENT_ID or pass it explicitly)"}
	}

	body := map[string]interface{}{
		"externalSessionKey": uuid.NewString(),
		"instanceConfig": map[string]interface{}{
			"endpoint": c.MyDomain,
		},
		"streamingCapabilities": map[string]interface{}{
			"chunkTypes": []string{"Text"},
		},
	}
	if len(variables) > 0 {
		body["variables"] = variables
	}

	startURL := fmt.Sprintf("%s/agents/%s/sessions", c.apiBase, agentID)
	response, err := c.APIRequest(ctx, "POST", startURL, nil, body)
	if err != nil {
		return nil, err
	}

	sessionID, _ := response["sessionId"].(string)
	if sessionID == "" {
		return nil, &APIError{Message: "No sessionId in response"}
	}

	sess := &Session{
		client:          c,
		SessionID:       sessionID,
		AgentID:         agentID,
		initialMessages: parseMessages(response),
	}
	logger.Logger.Debug("Session started", "sessionId", sessionID, "agentId", agentID)
	return sess, nil
}

// InitialGreeting returns the text the agent opened the session with, if any.
func (s *Session) InitialGreeting() string {
	parts := []string{}
	for _, m := range s.initialMessages {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Send delivers one user message and blocks for the agent's full reply.
// Calling Send on an ended session fails locally without touching the wire.
func (s *Session) Send(ctx context.Context, text string, variables []map[string]interface{}) (*TurnResult, error) {
	if s.ended {
		return nil, &APIError{StatusCode: 400, Message: "Session already ended"}
	}

	s.sequenceID++
	body := map[string]interface{}{
		"message": map[string]interface{}{
			"sequenceId": s.sequenceID,
			"type":       "Text",
			"text":       text,
		},
	}
	if len(variables) > 0 {
		body["variables"] = variables
	}

	sendURL := fmt.Sprintf("%s/sessions/%s/messages", s.client.apiBase, s.SessionID)
	start := time.Now()
	response, err := s.client.APIRequest(ctx, "POST", sendURL, nil, body)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		// The failed attempt is still a turn: callers evaluate it like any
		// other, with Error carrying what went wrong.
		return &TurnResult{
			SequenceID:  s.sequenceID,
			UserMessage: text,
			ElapsedMs:   elapsed,
			Error:       err.Error(),
		}, err
	}

	turn := &TurnResult{
		SequenceID:  s.sequenceID,
		UserMessage: text,
		Messages:    parseMessages(response),
		RawResponse: response,
		ElapsedMs:   elapsed,
	}
	s.turns = append(s.turns, turn)
	return turn, nil
}

// End closes the session. Idempotent: the latch is set before the DELETE
// goes out, so the request is attempted at most once even when it fails.
func (s *Session) End(ctx context.Context, reason string) error {
	if s.ended {
		return nil
	}
	s.ended = true
	if reason == "" {
		reason = "UserRequest"
	}
	endURL := fmt.Sprintf("%s/sessions/%s", s.client.apiBase, s.SessionID)
	headers := map[string]string{"x-session-end-reason": reason}
	if _, err := s.client.APIRequest(ctx, "DELETE", endURL, headers, nil); err != nil {
		return err
	}
	logger.Logger.Debug("Session ended", "sessionId", s.SessionID, "reason", reason)
	return nil
}

// Ended reports whether End has been called on this session.
func (s *Session) Ended() bool {
	return s.ended
}

// Turns returns the recorded turns in order.
func (s *Session) Turns() []*TurnResult {
	return s.turns
}
