// Package commerce is the client for the Commerce Platform admin API: bulk
// export requests, export download, subscription lookup.
package commerce

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

	"github.com/brandseal/brandseal/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrExportRejected is returned when the platform refuses the bulk export
	// request, usually because another bulk operation is already running.
	ErrExportRejected = errors.New("bulk_export_rejected")

	ErrOperationNotFound = errors.New("bulk_operation_not_found")
)

const accessTokenHeader = "X-Commerce-Access-Token"

// Credentials identify one shop against the platform admin API.
type Credentials struct {
	ShopDomain  string
	AccessToken string
}

// BulkOperation is the platform's view of an async bulk job.
type BulkOperation struct {
	ID          string
	Kind        string // "QUERY" (export) or "MUTATION" (apply)
	Status      string
	URL         string
	ObjectCount int64
	ErrorCode   string
}

func (o BulkOperation) Completed() bool {
	return strings.EqualFold(o.Status, "COMPLETED")
}

// Subscription is a billing subscription as reported by the platform.
type Subscription struct {
	ID        string
	Status    string
	TrialDays int
	CreatedAt time.Time
}

func (s Subscription) Active() bool {
	return strings.EqualFold(s.Status, "ACTIVE")
}

type Client struct {
	apiVersion string
	http       *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	timeout := time.Duration(cfg.Commerce.HTTPTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		apiVersion: cfg.Commerce.APIVersion,
		http:       &http.Client{Timeout: timeout},
		log:        log.Named("commerce"),
	}
}

// StartBulkExport submits the export query and returns the platform's
// normalized operation id.
func (c *Client) StartBulkExport(ctx context.Context, creds Credentials, query string) (string, error) {
	var out struct {
		BulkOperationRunQuery struct {
			BulkOperation struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"bulkOperation"`
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"bulkOperationRunQuery"`
	}

	mutation := fmt.Sprintf("mutation {\n  bulkOperationRunQuery(query: \"\"\"\n%s\n\"\"\") {\n    bulkOperation { id status }\n    userErrors { field message }\n  }\n}", query)

	if err := c.doGraphQL(ctx, creds, mutation, nil, &out); err != nil {
		return "", err
	}
	if len(out.BulkOperationRunQuery.UserErrors) > 0 {
		first := out.BulkOperationRunQuery.UserErrors[0]
		c.log.Warn("bulk export rejected",
			zap.String("shop_domain", creds.ShopDomain),
			zap.String("message", first.Message),
		)
		return "", fmt.Errorf("%w: %s", ErrExportRejected, first.Message)
	}
	id := out.BulkOperationRunQuery.BulkOperation.ID
	if id == "" {
		return "", ErrExportRejected
	}
	return NormalizeOperationID(id), nil
}

// GetBulkOperation reads the current state of a bulk operation. Webhook
// payloads only carry the operation id, so completion details come from here.
func (c *Client) GetBulkOperation(ctx context.Context, creds Credentials, operationID string) (*BulkOperation, error) {
	var out struct {
		Node *struct {
			ID          string `json:"id"`
			Type        string `json:"type"`
			Status      string `json:"status"`
			URL         string `json:"url"`
			ObjectCount string `json:"objectCount"`
			ErrorCode   string `json:"errorCode"`
		} `json:"node"`
	}

	query := `query($id: ID!) {
  node(id: $id) {
    ... on BulkOperation { id type status url objectCount errorCode }
  }
}`
	vars := map[string]any{"id": DenormalizeOperationID(operationID)}
	if err := c.doGraphQL(ctx, creds, query, vars, &out); err != nil {
		return nil, err
	}
	if out.Node == nil {
		return nil, ErrOperationNotFound
	}

	var count int64
	fmt.Sscanf(out.Node.ObjectCount, "%d", &count)
	return &BulkOperation{
		ID:          NormalizeOperationID(out.Node.ID),
		Kind:        out.Node.Type,
		Status:      out.Node.Status,
		URL:         out.Node.URL,
		ObjectCount: count,
		ErrorCode:   out.Node.ErrorCode,
	}, nil
}

// FetchExport opens the completed export's result file. The caller owns the
// returned body.
func (c *Client) FetchExport(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, fmt.Errorf("export_fetch_failed_status_%d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ActiveSubscriptions lists the shop's current app subscriptions.
func (c *Client) ActiveSubscriptions(ctx context.Context, creds Credentials) ([]Subscription, error) {
	var out struct {
		AppInstallation struct {
			ActiveSubscriptions []struct {
				ID        string    `json:"id"`
				Status    string    `json:"status"`
				TrialDays int       `json:"trialDays"`
				CreatedAt time.Time `json:"createdAt"`
			} `json:"activeSubscriptions"`
		} `json:"appInstallation"`
	}

	query := `query {
  appInstallation {
    activeSubscriptions { id status trialDays createdAt }
  }
}`
	if err := c.doGraphQL(ctx, creds, query, nil, &out); err != nil {
		return nil, err
	}

	subs := make([]Subscription, 0, len(out.AppInstallation.ActiveSubscriptions))
	for _, s := range out.AppInstallation.ActiveSubscriptions {
		subs = append(subs, Subscription{
			ID:        s.ID,
			Status:    s.Status,
			TrialDays: s.TrialDays,
			CreatedAt: s.CreatedAt,
		})
	}
	return subs, nil
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

func (c *Client) doGraphQL(ctx context.Context, creds Credentials, query string, vars map[string]any, out any) error {
	if creds.ShopDomain == "" || creds.AccessToken == "" {
		return errors.New("missing_commerce_credentials")
	}

	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/graphql.json", creds.ShopDomain, c.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessTokenHeader, creds.AccessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("commerce_request_failed_status_%d", resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("commerce_graphql_error: %s", envelope.Errors[0].Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
