package cloudflarekv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// KV is the minimal Workers KV surface the adapter needs: the standard
// get/put/delete/list primitives, nothing custom.
//
// Tests inject an in-memory implementation; production uses Client below.
type KV interface {
	// Get returns the raw value, or found=false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put writes a value. A positive ttl sets native expiration.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// ListKeys returns all key names with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// minTTL is Cloudflare's minimum expiration_ttl. Shorter TTLs are rejected
// by the API, so Put clamps up to it.
const minTTL = 60 * time.Second

// Client talks to the Workers KV REST API.
//
// WHY A HAND-ROLLED CLIENT?
// The KV REST surface used here is four endpoints with bearer-token auth.
// The official Cloudflare SDK wraps the entire Cloudflare API and would be
// the repository's largest dependency for four routes; net/http covers it
// in under a hundred lines. (Inside a Worker you'd use the runtime binding
// instead — this server runs outside Workers, so REST it is.)
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a client for one KV namespace.
func NewClient(accountID, namespaceID, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL: fmt.Sprintf(
			"https://api.cloudflare.com/client/v4/accounts/%s/storage/kv/namespaces/%s",
			url.PathEscape(accountID), url.PathEscape(namespaceID),
		),
		token: token,
	}
}

var _ KV = (*Client)(nil)

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.do(ctx, http.MethodGet, c.valueURL(key), nil)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		value, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, false, fmt.Errorf("cloudflarekv: reading value for %s: %w", key, err)
		}
		return value, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, c.statusError("get", key, resp)
	}
}

func (c *Client) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	u := c.valueURL(key)
	if ttl > 0 {
		if ttl < minTTL {
			ttl = minTTL
		}
		u += "?expiration_ttl=" + strconv.Itoa(int(ttl.Seconds()))
	}

	resp, err := c.do(ctx, http.MethodPut, u, bytes.NewReader(value))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError("put", key, resp)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.valueURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 404 means the key is already gone — the outcome we wanted.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return c.statusError("delete", key, resp)
	}
	return nil
}

func (c *Client) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	cursor := ""
	for {
		u := c.baseURL + "/keys?prefix=" + url.QueryEscape(prefix)
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}

		resp, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Success bool `json:"success"`
			Result  []struct {
				Name string `json:"name"`
			} `json:"result"`
			ResultInfo struct {
				Cursor string `json:"cursor"`
			} `json:"result_info"`
		}
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("cloudflarekv: decoding key listing: %w", err)
		}
		if resp.StatusCode != http.StatusOK || !parsed.Success {
			return nil, fmt.Errorf("cloudflarekv: list keys with prefix %q: status %d", prefix, resp.StatusCode)
		}

		for _, r := range parsed.Result {
			names = append(names, r.Name)
		}
		if parsed.ResultInfo.Cursor == "" {
			return names, nil
		}
		cursor = parsed.ResultInfo.Cursor
	}
}

func (c *Client) valueURL(key string) string {
	return c.baseURL + "/values/" + url.PathEscape(key)
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudflarekv: %s %s: %w", method, u, err)
	}
	return resp, nil
}

func (c *Client) statusError(op, key string, resp *http.Response) error {
	return fmt.Errorf("cloudflarekv: %s %q: unexpected status %d", op, key, resp.StatusCode)
}
