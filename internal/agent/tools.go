package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/sms"
)

// Tool is a function the model may call. Run receives the raw JSON
// arguments and returns the text handed back to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Run         func(ctx context.Context, args string) string
}

// SendTextMessage lets the model text the user mid-turn. Sends are fire and
// forget; the outcome is reported to the model only.
func SendTextMessage(sender sms.Sender) Tool {
	return Tool{
		Name:        "send_text_message",
		Description: "Send an SMS text message to the user's phone. Use this when you have information to share.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{
					"type":        "string",
					"description": "The text message to send. Write naturally as if texting a friend.",
				},
			},
			"required": []string{"message"},
		},
		Run: func(ctx context.Context, args string) string {
			var in struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return fmt.Sprintf("Failed to send text: invalid arguments: %v", err)
			}
			if strings.TrimSpace(in.Message) == "" {
				return "Failed to send text: message is empty"
			}
			res, err := sender.Send(ctx, in.Message, "")
			if err != nil {
				log.Warn().Err(err).Msg("send_text_message tool failed")
				return fmt.Sprintf("Failed to send text: %v", err)
			}
			log.Info().Str("text_id", res.TextID).Int("quota_remaining", res.QuotaRemaining).Msg("send_text_message tool sent")
			return "Text message sent successfully"
		},
	}
}
