// Package subgraph queries the off-chain bridge indexes: dispatch records
// keyed by user and execution records keyed by message id.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
)

// BridgeRequest is a bridge-initiation record from the off-chain index
type BridgeRequest struct {
	MessageID     string `json:"messageId"`
	Sender        string `json:"sender"`
	Recipient     string `json:"recipient"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	TargetChainID string `json:"targetChainId"`
	TxHash        string `json:"transactionHash"`
	Timestamp     string `json:"timestamp"`
}

// Execution is a counterpart-chain completion record
type Execution struct {
	MessageID string `json:"messageId"`
	TxHash    string `json:"transactionHash"`
	Timestamp string `json:"timestamp"`
}

// Client is a thin GraphQL-over-HTTP client, one endpoint per network
type Client struct {
	endpoints map[uint64]string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient creates a subgraph client for the given per-network endpoints
func NewClient(endpoints map[uint64]string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		endpoints: endpoints,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

const requestsByUserQuery = `
query ($user: String!) {
  messageDispatches(where: {sender: $user}, orderBy: timestamp, orderDirection: asc) {
    messageId sender recipient token amount targetChainId transactionHash timestamp
  }
}`

const executionsByIDsQuery = `
query ($ids: [String!]) {
  messageExecutions(where: {messageId_in: $ids}) {
    messageId transactionHash timestamp
  }
}`

// RequestsByUser returns all bridge-initiation records for a user on one
// network's index.
func (c *Client) RequestsByUser(ctx context.Context, networkID uint64, user string) ([]BridgeRequest, error) {
	var result struct {
		MessageDispatches []BridgeRequest `json:"messageDispatches"`
	}
	err := c.query(ctx, networkID, requestsByUserQuery, map[string]any{"user": user}, &result)
	if err != nil {
		return nil, err
	}
	return result.MessageDispatches, nil
}

// ExecutionsByMessageIDs returns execution records for the given message
// ids on one network's index. One round-trip per batch, not per id.
func (c *Client) ExecutionsByMessageIDs(ctx context.Context, networkID uint64, ids []string) ([]Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var result struct {
		MessageExecutions []Execution `json:"messageExecutions"`
	}
	err := c.query(ctx, networkID, executionsByIDsQuery, map[string]any{"ids": ids}, &result)
	if err != nil {
		return nil, err
	}
	return result.MessageExecutions, nil
}

func (c *Client) query(ctx context.Context, networkID uint64, query string, variables map[string]any, out any) error {
	endpoint, ok := c.endpoints[networkID]
	if !ok {
		return apperrors.ConfigurationError(nil,
			fmt.Sprintf("no subgraph endpoint configured for network %d", networkID))
	}

	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.UpstreamError(
			fmt.Errorf("subgraph request failed: %w", err),
			"bridge index unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.UpstreamError(
			fmt.Errorf("subgraph returned status %d", resp.StatusCode),
			"bridge index unavailable")
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return apperrors.UpstreamError(
			fmt.Errorf("failed to decode subgraph response: %w", err),
			"bridge index unavailable")
	}
	if len(envelope.Errors) > 0 {
		return apperrors.UpstreamError(
			fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message),
			"bridge index unavailable")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return apperrors.UpstreamError(
			fmt.Errorf("failed to decode subgraph data: %w", err),
			"bridge index unavailable")
	}
	return nil
}
