package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mgarrido/evsun/internal/config"
)

const defaultTimeout = 5 * time.Second

// Client is a minimal Home Assistant REST API client covering the two
// operations the controller needs: reading entity states and calling
// services.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type EntityState struct {
	EntityId   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

func NewClient(cfg config.HomeAssistantConfig) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutMillis > 0 {
		timeout = time.Duration(cfg.TimeoutMillis) * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetState fetches the current state of one entity.
func (c *Client) GetState(ctx context.Context, entityId string) (*EntityState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/states/%s", entityId), nil)
	if err != nil {
		return nil, err
	}
	var state EntityState
	if err := c.do(req, &state); err != nil {
		return nil, fmt.Errorf("get state %s: %w", entityId, err)
	}
	return &state, nil
}

// GetFloatState fetches an entity state and parses it as a number.
// "unknown" and "unavailable" states are errors: the caller must withhold
// the whole snapshot rather than guess.
func (c *Client) GetFloatState(ctx context.Context, entityId string) (float64, error) {
	state, err := c.GetState(ctx, entityId)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(state.State, 64)
	if err != nil {
		return 0, fmt.Errorf("entity %s state %q is not a number", entityId, state.State)
	}
	return value, nil
}

// CallService invokes a Home Assistant service against one entity.
func (c *Client) CallService(ctx context.Context, domainName, service string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost,
		fmt.Sprintf("/api/services/%s/%s", domainName, service), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("call service %s.%s: %w", domainName, service, err)
	}
	return nil
}

func (c *Client) TurnOnSwitch(ctx context.Context, entityId string) error {
	return c.CallService(ctx, "switch", "turn_on", map[string]any{"entity_id": entityId})
}

func (c *Client) TurnOffSwitch(ctx context.Context, entityId string) error {
	return c.CallService(ctx, "switch", "turn_off", map[string]any{"entity_id": entityId})
}

func (c *Client) SetNumber(ctx context.Context, entityId string, value float64) error {
	return c.CallService(ctx, "number", "set_value", map[string]any{
		"entity_id": entityId,
		"value":     value,
	})
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
