package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sorteiohub/restaum/go/internal/models"
)

// Notifier delivers winner notifications.
type Notifier interface {
	NotifyWinner(ctx context.Context, userID uuid.UUID, game *models.Game) error
}

// MessageNotifier sends the winner message through the messaging provider.
type MessageNotifier struct {
	client *Client
}

// NewMessageNotifier builds a notifier against the provider base URL with
// bearer token auth.
func NewMessageNotifier(baseURL, token string) *MessageNotifier {
	client := NewClient(baseURL)
	client.SetHeader("Authorization", "Bearer "+token)
	client.SetHeader("Content-Type", "application/json")
	return &MessageNotifier{client: client}
}

// NewNotifierFromEnv returns a MessageNotifier when NOTIFY_BASE_URL is set,
// and a no-op notifier otherwise.
func NewNotifierFromEnv() Notifier {
	baseURL := os.Getenv("NOTIFY_BASE_URL")
	if baseURL == "" {
		return NewNopNotifier()
	}
	return NewMessageNotifier(baseURL, os.Getenv("NOTIFY_TOKEN"))
}

type winnerMessage struct {
	UserID    string `json:"user_id"`
	GameID    string `json:"game_id"`
	GameTitle string `json:"game_title"`
	Message   string `json:"message"`
}

// NotifyWinner sends the congratulations message to the winning user.
func (n *MessageNotifier) NotifyWinner(ctx context.Context, userID uuid.UUID, game *models.Game) error {
	msg := winnerMessage{
		UserID:    userID.String(),
		GameID:    game.ID.String(),
		GameTitle: game.Title,
		Message:   fmt.Sprintf("Parabens! Voce venceu o sorteio %q.", game.Title),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal winner message: %w", err)
	}

	if _, err := n.client.Post("/v1/messages", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("failed to send winner message: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("game_id", game.ID.String()).
		Msg("winner notification sent")
	return nil
}

// NopNotifier drops winner notifications. Used when no provider is configured.
type NopNotifier struct{}

func NewNopNotifier() *NopNotifier {
	return &NopNotifier{}
}

func (NopNotifier) NotifyWinner(ctx context.Context, userID uuid.UUID, game *models.Game) error {
	log.Debug().
		Str("user_id", userID.String()).
		Str("game_id", game.ID.String()).
		Msg("winner notification skipped, no provider configured")
	return nil
}
