// Package agent runs the Jarvis assistant on top of a langchaingo chat model.
// Conversations are persisted in agent_items so a handle stays resumable
// across restarts even though the model API itself is stateless.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"github.com/suPer8Hu/omi-jarvis/internal/session"
	"github.com/suPer8Hu/omi-jarvis/internal/sms"
	"github.com/tmc/langchaingo/llms"
)

const DefaultInstructions = `You are Jarvis, a friendly AI personal assistant.

The user can ONLY see information you text them. They cannot see your standard responses.
Think of texting like a conversation over SMS and only text when it is natural to do so.

TOOLS AVAILABLE:
Send Text Message: send an SMS to the user's phone when you have information to share,
they ask a direct question, or you need to send a reminder. Write naturally, as if texting
a friend, and keep each text to a normal text message length.

RESPONSE:
In your response, provide a short description of what you did and why.`

// Reply is the outcome of one agent call.
type Reply struct {
	Text string
	// Tools lists the tools executed while producing Text, in call order.
	Tools []string
}

type Config struct {
	Instructions  string
	ContextWindow int
	MaxSteps      int
}

type LLMAgent struct {
	model   llms.Model
	history *History
	tools   map[string]Tool
	cfg     Config

	newConversationID func() (string, error)
}

func New(model llms.Model, history *History, sender sms.Sender, cfg Config) *LLMAgent {
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 20
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 6
	}
	a := &LLMAgent{
		model:   model,
		history: history,
		tools:   map[string]Tool{},
		cfg:     cfg,
		newConversationID: func() (string, error) {
			id, err := common.NewULID()
			if err != nil {
				return "", err
			}
			return "conv_" + strings.ToLower(id), nil
		},
	}
	a.register(SendTextMessage(sender))
	return a
}

func (a *LLMAgent) register(t Tool) {
	a.tools[t.Name] = t
}

func (a *LLMAgent) toolDefs() []llms.Tool {
	defs := make([]llms.Tool, 0, len(a.tools))
	for _, t := range a.tools {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return defs
}

// Converse sends text to the model in the conversation of h. On the first
// successful call of an unbound handle a new conversation id is assigned
// and bound to h.
func (a *LLMAgent) Converse(ctx context.Context, text string, h *session.Handle) (Reply, error) {
	conv := h.ConversationID()

	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, a.cfg.Instructions)}
	if conv != "" {
		items, err := a.history.Recent(ctx, conv, a.cfg.ContextWindow)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: %w", common.ErrAgent, err)
		}
		for _, it := range items {
			role := llms.ChatMessageTypeHuman
			if it.Role == RoleAI {
				role = llms.ChatMessageTypeAI
			}
			msgs = append(msgs, llms.TextParts(role, it.Text))
		}
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, text))

	var (
		final string
		done  bool
		used  []string
	)
	for step := 0; step < a.cfg.MaxSteps; step++ {
		resp, err := a.model.GenerateContent(ctx, msgs, llms.WithTools(a.toolDefs()))
		if err != nil {
			return Reply{}, fmt.Errorf("%w: generate: %w", common.ErrAgent, err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return Reply{}, fmt.Errorf("%w: empty model response", common.ErrAgent)
		}
		choice := resp.Choices[0]
		if len(choice.ToolCalls) == 0 {
			final = choice.Content
			done = true
			break
		}

		call := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		for _, tc := range choice.ToolCalls {
			call.Parts = append(call.Parts, tc)
		}
		msgs = append(msgs, call)

		for _, tc := range choice.ToolCalls {
			name, out := a.runTool(ctx, tc)
			used = append(used, name)
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       name,
					Content:    out,
				}},
			})
		}
	}
	if !done {
		return Reply{}, fmt.Errorf("%w: no final answer after %d steps", common.ErrAgent, a.cfg.MaxSteps)
	}

	if conv == "" {
		id, err := a.newConversationID()
		if err != nil {
			return Reply{}, fmt.Errorf("%w: conversation id: %w", common.ErrAgent, err)
		}
		conv = id
		log.Info().Str("session_id", h.SessionID()).Str("conversation_id", conv).Msg("started conversation")
	}
	if err := a.history.Append(ctx, conv, text, final); err != nil {
		log.Error().Err(err).Str("conversation_id", conv).Msg("failed to record conversation turn")
	}
	h.Bind(conv)

	return Reply{Text: final, Tools: used}, nil
}

func (a *LLMAgent) runTool(ctx context.Context, tc llms.ToolCall) (string, string) {
	if tc.FunctionCall == nil {
		return "unknown", "error: malformed tool call"
	}
	name := tc.FunctionCall.Name
	t, ok := a.tools[name]
	if !ok {
		log.Warn().Str("tool", name).Msg("model called unknown tool")
		return name, fmt.Sprintf("error: unknown tool %q", name)
	}
	log.Info().Str("tool", name).Msg("executing tool")
	return name, t.Run(ctx, tc.FunctionCall.Arguments)
}
