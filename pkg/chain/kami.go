// Package chain streams block headers and hashes from the Kami sidecar.
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"github.com/tensorplex-labs/templar/pkg/config"
)

// NewKamiHeaderSource builds a header source from KAMI_HOST and KAMI_PORT.
func NewKamiHeaderSource(ctx context.Context, opts ...Option) (*KamiHeaderSource, error) {
	var envCfg config.KamiEnvConfig
	if err := envconfig.Process(ctx, &envCfg); err != nil {
		return nil, fmt.Errorf("process kami environment: %w", err)
	}

	baseURL := fmt.Sprintf("http://%s:%s", envCfg.KamiHost, envCfg.KamiPort)
	return NewKamiHeaderSourceWithURL(baseURL, opts...), nil
}

// NewKamiHeaderSourceWithURL builds a header source against an explicit base URL.
func NewKamiHeaderSourceWithURL(baseURL string, opts ...Option) *KamiHeaderSource {
	client := retryablehttp.NewClient()
	client.RetryMax = 5
	client.HTTPClient.Timeout = 30 * time.Second
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 20 * time.Second
	client.Logger = nil

	k := &KamiHeaderSource{
		httpClient:   client,
		baseURL:      baseURL,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(k)
	}

	log.Info().
		Str("base_url", baseURL).
		Int("retry_max", client.RetryMax).
		Str("timeout", client.HTTPClient.Timeout.String()).
		Str("poll_interval", k.pollInterval.String()).
		Msg("kami header source initialized")

	return k
}

func (k *KamiHeaderSource) doRequest(ctx context.Context, method, endpoint string) ([]byte, error) {
	url := k.baseURL + endpoint

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		log.Debug().
			Err(err).
			Str("method", method).
			Str("url", url).
			Msg("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Debug().
			Str("url", url).
			Int("status_code", resp.StatusCode).
			Msg("unexpected status from kami")
		return nil, fmt.Errorf("request returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func getData[T any](ctx context.Context, k *KamiHeaderSource, endpoint string) (T, error) {
	var zero T
	body, err := k.doRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return zero, err
	}

	var result kamiResponse[T]
	if err := sonic.Unmarshal(body, &result); err != nil {
		return zero, fmt.Errorf("failed to parse response: %w", err)
	}
	if !result.Success || result.Error != nil {
		return zero, fmt.Errorf("response error: %v", result.Error)
	}
	return result.Data, nil
}

// LatestHeader returns the chain head.
func (k *KamiHeaderSource) LatestHeader(ctx context.Context) (Header, error) {
	return getData[Header](ctx, k, "/chain/latest-block")
}

// BlockHash returns the hash of the block at height.
func (k *KamiHeaderSource) BlockHash(ctx context.Context, height int) (string, error) {
	bh, err := getData[blockHash](ctx, k, fmt.Sprintf("/chain/block-hash/%d", height))
	if err != nil {
		return "", err
	}
	if bh.Hash == "" {
		return "", fmt.Errorf("empty hash for block %d", height)
	}
	return bh.Hash, nil
}

// Subscribe starts a header stream that emits every time the head advances.
// The stream ends on the first request that still fails after retries; callers
// resubscribe from scratch.
func (k *KamiHeaderSource) Subscribe(ctx context.Context) (Stream, error) {
	first, err := k.LatestHeader(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{
		headers: make(chan Header, DefaultStreamBuffer),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.headers)

		last := first
		sub.headers <- first

		ticker := time.NewTicker(k.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			head, err := k.LatestHeader(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				sub.err = err
				return
			}
			if head.Number <= last.Number {
				continue
			}
			last = head

			select {
			case sub.headers <- head:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}
