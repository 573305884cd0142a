package bucket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/slices"
)

var _ slices.Remote = (*Client)(nil)

// NewClient creates a bucket client.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultClientTimeout
	}

	restyClient := resty.New().
		SetTimeout(config.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &Client{config: config, restyClient: restyClient}
}

// CreateAuthParams signs a write of key with method.
func (c *Client) CreateAuthParams(method, key string) (AuthParams, error) {
	if c.config.Signer == nil {
		return AuthParams{}, fmt.Errorf("signature provider not initialized - signer required in ClientConfig")
	}

	message := WriteMessage(method, key, time.Now())
	sig, err := c.config.Signer.Sign(message)
	if err != nil {
		return AuthParams{}, fmt.Errorf("failed to sign message: %w", err)
	}

	return AuthParams{
		Hotkey:    c.config.Signer.Hotkey(),
		Message:   message,
		Signature: sig,
	}, nil
}

func buildHeaders(auth AuthParams) map[string]string {
	return map[string]string{
		SignatureHeader: auth.Signature,
		MessageHeader:   auth.Message,
		HotkeyHeader:    auth.Hotkey,
	}
}

func objectURL(endpoint, key string) string {
	return strings.TrimRight(endpoint, "/") + slicesRoute + "/" + url.PathEscape(key)
}

// unreachable marks transport failures and server errors so callers can tell
// them apart from missing or corrupt objects.
func unreachable(endpoint string, err error) error {
	return fmt.Errorf("%w: %s: %v", slices.ErrEndpointUnreachable, endpoint, err)
}

func statusError(resp *resty.Response) error {
	var std StdResponse[map[string]interface{}]
	if err := sonic.Unmarshal(resp.Body(), &std); err == nil && std.Error != nil {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode(), *std.Error)
	}
	return fmt.Errorf("HTTP error %d", resp.StatusCode())
}

func (c *Client) List(ctx context.Context, endpoint, prefix string) ([]string, error) {
	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetQueryParam("prefix", prefix).
		Get(strings.TrimRight(endpoint, "/") + slicesRoute)
	if err != nil {
		return nil, unreachable(endpoint, err)
	}
	if resp.IsError() {
		return nil, unreachable(endpoint, statusError(resp))
	}

	var result StdResponse[ListResponse]
	if err := sonic.Unmarshal(resp.Body(), &result); err != nil {
		return nil, unreachable(endpoint, fmt.Errorf("failed to unmarshal StdResponse: %w", err))
	}
	if result.Error != nil {
		return nil, unreachable(endpoint, errors.New(*result.Error))
	}
	return result.Body.Keys, nil
}

func (c *Client) Get(ctx context.Context, endpoint, key string) ([]byte, error) {
	resp, err := c.restyClient.R().
		SetContext(ctx).
		Get(objectURL(endpoint, key))
	if err != nil {
		return nil, unreachable(endpoint, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", slices.ErrArtifactMissing, key)
	case resp.IsError():
		return nil, unreachable(endpoint, statusError(resp))
	}
	return resp.Body(), nil
}

func (c *Client) Put(ctx context.Context, endpoint, key string, data []byte) error {
	auth, err := c.CreateAuthParams(http.MethodPut, key)
	if err != nil {
		return err
	}

	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetHeaders(buildHeaders(auth)).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put(objectURL(endpoint, key))
	if err != nil {
		return unreachable(endpoint, err)
	}
	if resp.IsError() {
		return unreachable(endpoint, statusError(resp))
	}

	log.Trace().Str("endpoint", endpoint).Str("key", key).Int("bytes", len(data)).Msg("put object")
	return nil
}

func (c *Client) Delete(ctx context.Context, endpoint, key string) error {
	auth, err := c.CreateAuthParams(http.MethodDelete, key)
	if err != nil {
		return err
	}

	resp, err := c.restyClient.R().
		SetContext(ctx).
		SetHeaders(buildHeaders(auth)).
		Delete(objectURL(endpoint, key))
	if err != nil {
		return unreachable(endpoint, err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return unreachable(endpoint, statusError(resp))
	}
	return nil
}
