package sns

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMissingSubscribeURL is returned when a handshake carries no callback URL
var ErrMissingSubscribeURL = errors.New("subscription confirmation has no SubscribeURL")

// Confirmer acknowledges SNS subscription handshakes
type Confirmer struct {
	client *http.Client
}

// NewConfirmer creates a confirmer. A nil client gets a default one with a
// 10 second timeout.
func NewConfirmer(client *http.Client) *Confirmer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Confirmer{client: client}
}

// Confirm visits subscribeURL once. Any HTTP response counts as success;
// only transport failures are returned.
func (c *Confirmer) Confirm(ctx context.Context, subscribeURL string) error {
	if subscribeURL == "" {
		return ErrMissingSubscribeURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("invalid SubscribeURL: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to confirm subscription")
		return fmt.Errorf("failed to confirm subscription: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	log.Info().Int("status", resp.StatusCode).Msg("SNS subscription confirmed")
	return nil
}
