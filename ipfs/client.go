// Package ipfs publishes opaque byte payloads to a content-addressed store
// through an IPFS-gateway style HTTP endpoint and returns /ipfs/<cid> locators.
package ipfs

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

	"github.com/ipfs/go-cid"
)

var (
	// ErrTransport signals the store was unreachable or the request timed out.
	// Retryable by the caller; the client never retries on its own.
	ErrTransport = errors.New("ipfs: transport failure")
	// ErrStoreRejected signals the store refused the payload or answered with
	// something that is not a valid content address.
	ErrStoreRejected = errors.New("ipfs: store rejected payload")
)

// Client talks to a single add/resolve endpoint. Publishing identical bytes
// twice may return the same locator; callers must treat locators as opaque.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

type addRequest struct {
	FileName string `json:"fileName"`
	Buffer   []byte `json:"buffer"`
}

type addResponse struct {
	Data []struct {
		Hash string `json:"hash"`
		Path string `json:"path"`
	} `json:"data"`
}

// Publish stores data under name and returns its locator. It never returns a
// partial locator: every failure is either ErrTransport or ErrStoreRejected.
func (c *Client) Publish(ctx context.Context, name string, data []byte) (string, error) {
	body, err := json.Marshal(addRequest{FileName: name, Buffer: data})
	if err != nil {
		return "", fmt.Errorf("ipfs: encode add request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ipfs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrStoreRejected, resp.StatusCode)
	}

	var decoded addResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrStoreRejected, err)
	}
	if len(decoded.Data) == 0 || decoded.Data[0].Hash == "" {
		return "", fmt.Errorf("%w: empty content address", ErrStoreRejected)
	}
	if _, err := cid.Decode(decoded.Data[0].Hash); err != nil {
		return "", fmt.Errorf("%w: invalid content address %q: %v", ErrStoreRejected, decoded.Data[0].Hash, err)
	}

	return "/ipfs/" + decoded.Data[0].Hash + decoded.Data[0].Path, nil
}

// Resolve fetches the bytes behind a locator previously returned by Publish.
func (c *Client) Resolve(ctx context.Context, locator string) ([]byte, error) {
	if !strings.HasPrefix(locator, "/ipfs/") {
		return nil, fmt.Errorf("ipfs: malformed locator %q", locator)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+locator, nil)
	if err != nil {
		return nil, fmt.Errorf("ipfs: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: locator %q unresolvable", ErrStoreRejected, locator)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrStoreRejected, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	return data, nil
}
