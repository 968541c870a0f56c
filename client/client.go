package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hashgate/powreg/pow"
)

// Error texts surface verbatim in the final outcome, so they are part of the
// tool's user-facing contract.
var (
	ErrTransport         = errors.New("Network error")
	ErrUnexpectedStatus  = errors.New("unexpected response status")
	ErrMalformedResponse = errors.New("malformed response")
)

// Challenge is the server's description of the puzzle gating registration.
type Challenge struct {
	PowRequired bool   `json:"pow_required"`
	Token       string `json:"challenge"`
	Difficulty  uint   `json:"difficulty"`
}

// Receipt is the server's answer to a submission. A nil or true Success
// field means the registration was accepted; Position is reported only by
// servers that maintain a queue.
type Receipt struct {
	Success  *bool  `json:"success"`
	Position *int   `json:"position"`
	Error    string `json:"error"`
}

type submission struct {
	Email    string `json:"email"`
	Nonce    string `json:"nonce"`
	Solution string `json:"solution"`
}

// RejectionError means the server understood the submission and explicitly
// refused it. Its text is the server's reason, verbatim.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return "registration rejected"
	}
	return e.Reason
}

// Client talks to a registration endpoint: the challenge is fetched from and
// the solution submitted to the same URL.
type Client struct {
	endpoint *url.URL
	client   *retryablehttp.Client
}

// New returns a client for the given endpoint URL.
func New(rawURL string) (*Client, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint: %w", err)
	}
	if !endpoint.IsAbs() {
		return nil, fmt.Errorf("endpoint %q is not an absolute URL", rawURL)
	}

	rc := retryablehttp.NewClient()
	// One request per call. The attempt deadline is the only abort policy.
	rc.RetryMax = 0
	rc.Logger = nil

	return &Client{endpoint: endpoint, client: rc}, nil
}

// Challenge fetches the puzzle parameters for a new registration attempt.
func (c *Client) Challenge(ctx context.Context) (*Challenge, error) {
	challenge := Challenge{}
	if err := c.req(ctx, http.MethodGet, nil, &challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// Submit posts the solved challenge together with the email to register.
// A response explicitly carrying success=false is returned as a
// *RejectionError.
func (c *Client) Submit(ctx context.Context, email string, sol pow.Solution) (*Receipt, error) {
	request := submission{
		Email:    email,
		Nonce:    sol.Nonce,
		Solution: sol.Digest,
	}
	receipt := Receipt{}
	if err := c.req(ctx, http.MethodPost, &request, &receipt); err != nil {
		return nil, err
	}
	if receipt.Success != nil && !*receipt.Success {
		return nil, &RejectionError{Reason: receipt.Error}
	}
	return &receipt, nil
}

func (c *Client) req(ctx context.Context, method string, reqBody, resBody any) error {
	var payload io.Reader
	if reqBody != nil {
		jsonReqBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = bytes.NewReader(jsonReqBody)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint.String(), payload)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer res.Body.Close()

	data, readErr := io.ReadAll(res.Body)
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: HTTP %d: %s", ErrUnexpectedStatus, res.StatusCode, bodyText(data, readErr))
	}
	if readErr != nil {
		return fmt.Errorf("%w: reading response body: %v", ErrTransport, readErr)
	}

	if err := json.Unmarshal(data, resBody); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// bodyText renders a response body for an error message. Reading the body of
// a failed response is best effort only.
func bodyText(data []byte, err error) string {
	if err != nil || len(data) == 0 {
		return "<no body>"
	}
	return strings.TrimSpace(string(data))
}
