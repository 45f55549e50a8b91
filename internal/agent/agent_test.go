package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/db/dbtest"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/sms"
	"github.com/tmc/langchaingo/llms"
)

// scriptedModel returns the queued responses in order and records the
// messages of every call.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llms.ContentResponse
	err       error
	calls     [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llms.MessageContent(nil), msgs...))
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func toolCall(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *recordingSender) Send(_ context.Context, text, _ string) (sms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sms.Result{}, s.err
	}
	s.sent = append(s.sent, text)
	return sms.Result{Success: true, TextID: "t1"}, nil
}

func newAgent(t *testing.T, model llms.Model, sender sms.Sender) (*LLMAgent, *History) {
	t.Helper()
	h := NewHistory(dbtest.Open(t, &Item{}))
	return New(model, h, sender, Config{}), h
}

func lastText(msg llms.MessageContent) string {
	var b strings.Builder
	for _, p := range msg.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestConverse_NewConversationBindsHandle(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{text("It's sunny")}}
	a, hist := newAgent(t, model, &recordingSender{})
	h := session.NewHandle("s1", "")

	reply, err := a.Converse(context.Background(), "SPEAKER_0: hey jarvis what's the weather", h)
	require.NoError(t, err)

	assert.Equal(t, "It's sunny", reply.Text)
	assert.Empty(t, reply.Tools)
	require.True(t, h.Bound())
	assert.True(t, strings.HasPrefix(h.ConversationID(), "conv_"))

	items, err := hist.Recent(context.Background(), h.ConversationID(), 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, RoleHuman, items[0].Role)
	assert.Equal(t, RoleAI, items[1].Role)
	assert.Equal(t, "It's sunny", items[1].Text)
}

func TestConverse_ResumedConversationSendsHistory(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{text("second")}}
	a, hist := newAgent(t, model, &recordingSender{})
	require.NoError(t, hist.Append(context.Background(), "conv_123", "first question", "first answer"))

	h := session.NewHandle("s2", "conv_123")
	_, err := a.Converse(context.Background(), "follow up", h)
	require.NoError(t, err)
	assert.Equal(t, "conv_123", h.ConversationID())

	require.Len(t, model.calls, 1)
	msgs := model.calls[0]
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Equal(t, "first question", lastText(msgs[1]))
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, "follow up", lastText(msgs[3]))
}

func TestConverse_ToolLoopSendsText(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCall("call_1", "send_text_message", `{"message":"72F and clear"}`),
		text("I texted you the weather"),
	}}
	sender := &recordingSender{}
	a, _ := newAgent(t, model, sender)

	reply, err := a.Converse(context.Background(), "weather?", session.NewHandle("s1", ""))
	require.NoError(t, err)

	assert.Equal(t, "I texted you the weather", reply.Text)
	assert.Equal(t, []string{"send_text_message"}, reply.Tools)
	assert.Equal(t, []string{"72F and clear"}, sender.sent)

	require.Len(t, model.calls, 2)
	second := model.calls[1]
	last := second[len(second)-1]
	assert.Equal(t, llms.ChatMessageTypeTool, last.Role)
	resp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)
	assert.Equal(t, "Text message sent successfully", resp.Content)
}

func TestConverse_ToolFailureIsReportedToModel(t *testing.T) {
	model := &scriptedModel{responses: []*llms.ContentResponse{
		toolCall("c1", "send_text_message", `{"message":"hi"}`),
		text("done"),
	}}
	a, _ := newAgent(t, model, &recordingSender{err: errors.New("quota")})

	reply, err := a.Converse(context.Background(), "x", session.NewHandle("s1", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"send_text_message"}, reply.Tools)

	last := model.calls[1][len(model.calls[1])-1]
	resp := last.Parts[0].(llms.ToolCallResponse)
	assert.Contains(t, resp.Content, "Failed to send text")
}

func TestConverse_ModelErrorLeavesHandleUnbound(t *testing.T) {
	model := &scriptedModel{err: errors.New("upstream 500")}
	a, _ := newAgent(t, model, &recordingSender{})
	h := session.NewHandle("s1", "")

	_, err := a.Converse(context.Background(), "x", h)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAgent))
	assert.False(t, h.Bound())
}

func TestConverse_StepLimit(t *testing.T) {
	var rs []*llms.ContentResponse
	for i := 0; i < 10; i++ {
		rs = append(rs, toolCall("c", "send_text_message", `{"message":"again"}`))
	}
	model := &scriptedModel{responses: rs}
	h := NewHistory(dbtest.Open(t, &Item{}))
	a := New(model, h, &recordingSender{}, Config{MaxSteps: 3})

	_, err := a.Converse(context.Background(), "loop", session.NewHandle("s1", ""))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrAgent))
	assert.Len(t, model.calls, 3)
}

func TestHistory_RecentWindow(t *testing.T) {
	h := NewHistory(dbtest.Open(t, &Item{}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, h.Append(ctx, "c", "q", "a"))
	}
	items, err := h.Recent(ctx, "c", 4)
	require.NoError(t, err)
	require.Len(t, items, 4)
	assert.Equal(t, RoleHuman, items[0].Role)
	assert.True(t, items[0].ID < items[3].ID)
}
