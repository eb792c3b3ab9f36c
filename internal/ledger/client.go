package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/puffperksonline/puffperks/internal/logger"
	"github.com/puffperksonline/puffperks/internal/models"
)

// RemoteError carries the message returned by a platform function so the UI
// can surface it verbatim.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsRemote reports whether err originated from a function's error envelope.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// TokenSource supplies the bearer token used to call the platform functions.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the only path through which stamp, redemption and analytics
// operations cross the system boundary. It performs no retries: a failed call
// is surfaced once and retry is the caller's decision.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenSource
	Logger  *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, log *logger.Logger) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: timeout},
		Tokens:  tokens,
		Logger:  log,
	}
}

type stampRequest struct {
	LoyaltyCardID string `json:"loyalty_card_id"`
	StoreID       string `json:"storeId"`
	Undo          bool   `json:"undo,omitempty"`
}

type redeemRequest struct {
	LoyaltyCardID string `json:"loyalty_card_id"`
	RewardID      string `json:"reward_id"`
	Undo          bool   `json:"undo,omitempty"`
}

type storeRequest struct {
	StoreID string `json:"store_id"`
}

// AddStamp applies (or with undo set, reverses) exactly one stamp on a card.
func (c *Client) AddStamp(ctx context.Context, loyaltyCardID, storeID string, undo bool) error {
	c.Logger.LogLedger("add-stamp-manually", loyaltyCardID, fmt.Sprintf("undo=%t", undo))
	return c.invoke(ctx, "add-stamp-manually", stampRequest{
		LoyaltyCardID: loyaltyCardID,
		StoreID:       storeID,
		Undo:          undo,
	}, nil)
}

// RedeemReward redeems (or with undo set, reverses the redemption of) a reward.
func (c *Client) RedeemReward(ctx context.Context, loyaltyCardID, rewardID string, undo bool) error {
	c.Logger.LogLedger("redeem-reward", loyaltyCardID, fmt.Sprintf("reward=%s undo=%t", rewardID, undo))
	return c.invoke(ctx, "redeem-reward", redeemRequest{
		LoyaltyCardID: loyaltyCardID,
		RewardID:      rewardID,
		Undo:          undo,
	}, nil)
}

func (c *Client) FetchAnalytics(ctx context.Context, storeID string) (*models.AnalyticsSnapshot, error) {
	var snapshot models.AnalyticsSnapshot
	if err := c.invoke(ctx, "get-analytics", storeRequest{StoreID: storeID}, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *Client) FetchCustomerSegments(ctx context.Context, storeID string) (*models.CustomerSegments, error) {
	var segments models.CustomerSegments
	if err := c.invoke(ctx, "get-customer-segments", storeRequest{StoreID: storeID}, &segments); err != nil {
		return nil, err
	}
	return &segments, nil
}

// invoke POSTs one function call and decodes the result into out when non-nil.
// Functions report business-rule rejections as {"error": "..."} with any
// status; that message is preserved verbatim.
func (c *Client) invoke(ctx context.Context, function string, body interface{}, out interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", function, err)
	}

	url := fmt.Sprintf("%s/%s", c.BaseURL, function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.Tokens != nil {
		token, err := c.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get function token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s call failed: %w", function, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", function, err)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &envelope)
	}
	if envelope.Error != "" {
		c.Logger.Error("LEDGER", fmt.Sprintf("%s rejected: %s", function, envelope.Error))
		return &RemoteError{Status: resp.StatusCode, Message: envelope.Error}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.Logger.Error("LEDGER", fmt.Sprintf("%s failed: status %d", function, resp.StatusCode))
		return &RemoteError{Status: resp.StatusCode, Message: fmt.Sprintf("%s failed: status %d", function, resp.StatusCode)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", function, err)
		}
	}

	return nil
}
