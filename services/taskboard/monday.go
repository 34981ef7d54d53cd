// Package taskboard creates draft items on the external task board.
package taskboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slsdispatch/services/fleet"
)

const (
	defaultEndpoint = "https://api.monday.com/v2"
	defaultTimeout  = 10 * time.Second

	createItemMutation = `mutation ($board_id: ID!, $item_name: String!) { create_item (board_id: $board_id, item_name: $item_name) { id name } }`
)

// Config configures the Monday.com client.
type Config struct {
	Token    string
	BoardID  string
	Endpoint string
	Timeout  time.Duration
}

// Monday creates one item per order.
type Monday struct {
	cfg    Config
	client *http.Client
}

// NewMonday returns a client. Without a token or board id every call fails
// with fleet.ErrConfiguration.
func NewMonday(cfg Config) *Monday {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Monday{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type createItemResponse struct {
	Data struct {
		CreateItem *struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"create_item"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// ItemName is "<customer> - <filename>".
func ItemName(order fleet.Order) string {
	return strings.TrimSpace(order.CustomerName) + " - " + order.CanonicalFilename
}

// CreateItem creates the draft item and returns the reference stored on the
// order: provider, board_id, item_id and name.
func (m *Monday) CreateItem(ctx context.Context, order fleet.Order) (map[string]any, error) {
	if m == nil || m.cfg.Token == "" || m.cfg.BoardID == "" {
		return nil, fmt.Errorf("%w: MONDAY_TOKEN/MONDAY_BOARD_ID not set", fleet.ErrConfiguration)
	}

	body, err := json.Marshal(graphQLRequest{
		Query: createItemMutation,
		Variables: map[string]any{
			"board_id":  m.cfg.BoardID,
			"item_name": ItemName(order),
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", m.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: create_item: %v", fleet.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read create_item response: %v", fleet.ErrTransientDelivery, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: create_item: status %d: %s", fleet.ErrTransientDelivery, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out createItemResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode create_item response: %w", err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, len(out.Errors))
		for i, e := range out.Errors {
			msgs[i] = e.Message
		}
		return nil, fmt.Errorf("create_item: %s", strings.Join(msgs, "; "))
	}
	if out.Data.CreateItem == nil {
		return nil, errors.New("create_item: empty response")
	}

	return map[string]any{
		"provider": "monday",
		"board_id": m.cfg.BoardID,
		"item_id":  out.Data.CreateItem.ID,
		"name":     out.Data.CreateItem.Name,
	}, nil
}
