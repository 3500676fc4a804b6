package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CardPath is where an agent card is served relative to the base URL.
const CardPath = "/.well-known/agent.json"

// InvokePath is the default invoke endpoint relative to the base URL.
const InvokePath = "/invoke"

// Capabilities advertises optional protocol features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// Card describes a remotely hosted stage.
type Card struct {
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	Version      string       `json:"version,omitempty"`
	URL          string       `json:"url,omitempty"` // invoke endpoint; empty means base + InvokePath
	Capabilities Capabilities `json:"capabilities"`
}

// InvokeURL returns the absolute invoke endpoint for a card fetched from
// baseURL.
func (c Card) InvokeURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case c.URL == "":
		return base + InvokePath
	case strings.HasPrefix(c.URL, "/"):
		return base + c.URL
	default:
		return c.URL
	}
}

// FetchCard retrieves and decodes the card at baseURL. A nil client uses
// http.DefaultClient.
func FetchCard(ctx context.Context, client *http.Client, baseURL string) (Card, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+CardPath, nil)
	if err != nil {
		return Card{}, fmt.Errorf("build card request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Card{}, fmt.Errorf("fetch card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Card{}, fmt.Errorf("fetch card: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var card Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return Card{}, fmt.Errorf("decode card: %w", err)
	}
	if card.Name == "" {
		return Card{}, fmt.Errorf("decode card: missing name")
	}

	return card, nil
}
