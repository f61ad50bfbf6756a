package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TopupRequest is the body sent to the provider's send-topup endpoint.
// TxHash is the confirmed on-chain payment used as proof.
type TopupRequest struct {
	OperatorID     string `json:"operatorId"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	RecipientPhone string `json:"recipientPhone"`
	SenderPhone    string `json:"senderPhone"`
	RecipientEmail string `json:"recipientEmail"`
	TxHash         string `json:"tx_hash"`
}

type TopupResponse struct {
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// StatusError is a non-2xx provider response. Message carries the
// body's error field when one was present.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("topup request failed with status %d", e.StatusCode)
}

// Client talks to the external fulfillment provider.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SendTopup posts the top-up request. Any 2xx counts as accepted.
func (c *Client) SendTopup(ctx context.Context, req TopupRequest) (TopupResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return TopupResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-topup", bytes.NewReader(body))
	if err != nil {
		return TopupResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return TopupResponse{}, fmt.Errorf("send topup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return TopupResponse{}, &StatusError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	var out TopupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TopupResponse{}, fmt.Errorf("decode topup response: %w", err)
	}
	return out, nil
}
