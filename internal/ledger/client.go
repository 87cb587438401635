// Package ledger talks to the external Usage Ledger SaaS: customer identify
// on install and usage events after completed runs.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/brandseal/brandseal/internal/config"
	"go.uber.org/zap"
)

// UsageEventImagesGenerated is the billable event emitted once per completed
// processing run, carrying the processed-image count.
const UsageEventImagesGenerated = "images_generated"

var ErrLedgerDisabled = errors.New("ledger_not_configured")

type Client struct {
	baseURL string
	appID   string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Ledger.BaseURL, "/"),
		appID:   cfg.Ledger.AppID,
		apiKey:  cfg.Ledger.APIKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log.Named("ledger"),
	}
}

func (c *Client) enabled() bool {
	return c.baseURL != "" && c.appID != "" && c.apiKey != ""
}

type IdentifyRequest struct {
	ShopID      string `json:"platformId"`
	ShopDomain  string `json:"myshopDomain"`
	Email       string `json:"email,omitempty"`
	AccessToken string `json:"accessToken"`
}

// Identify registers the shop with the ledger and returns the per-customer
// token used for later usage events.
func (c *Client) Identify(ctx context.Context, req IdentifyRequest) (string, error) {
	if !c.enabled() {
		return "", ErrLedgerDisabled
	}

	var out struct {
		APIToken string `json:"apiToken"`
	}
	if err := c.post(ctx, "/identify", "", req, &out); err != nil {
		return "", err
	}
	if out.APIToken == "" {
		return "", errors.New("ledger_identify_missing_token")
	}
	return out.APIToken, nil
}

type usageEventRequest struct {
	EventName  string         `json:"eventName"`
	Properties map[string]any `json:"properties"`
}

// RecordUsage emits one usage event under the customer's token.
func (c *Client) RecordUsage(ctx context.Context, customerToken, eventName string, count int64) error {
	if !c.enabled() {
		return ErrLedgerDisabled
	}
	if customerToken == "" {
		return errors.New("ledger_missing_customer_token")
	}

	req := usageEventRequest{
		EventName: eventName,
		Properties: map[string]any{
			"count": count,
		},
	}
	return c.post(ctx, "/usage_events", customerToken, req, nil)
}

func (c *Client) post(ctx context.Context, path, customerToken string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Id", c.appID)
	req.Header.Set("X-Api-Key", c.apiKey)
	if customerToken != "" {
		req.Header.Set("X-Customer-Api-Token", customerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("ledger_request_failed_status_%d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
