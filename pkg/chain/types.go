package chain

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultPollInterval = time.Second
	DefaultStreamBuffer = 16
)

// Header is a block header as observed by the sidecar.
type Header struct {
	Number     int    `json:"blockNumber"`
	ParentHash string `json:"parentHash"`
	StateRoot  string `json:"stateRoot"`
}

type kamiResponse[T any] struct {
	StatusCode int            `json:"statusCode"`
	Success    bool           `json:"success"`
	Data       T              `json:"data"`
	Error      map[string]any `json:"error"`
}

type blockHash struct {
	BlockNumber int    `json:"blockNumber"`
	Hash        string `json:"hash"`
}

// KamiHeaderSource polls the Kami sidecar for new headers and block hashes.
type KamiHeaderSource struct {
	httpClient   *retryablehttp.Client
	baseURL      string
	pollInterval time.Duration
}

// Stream is a live header stream. Headers is closed when the stream ends;
// Err then reports why, nil when the caller cancelled it.
type Stream interface {
	Headers() <-chan Header
	Err() error
}

// Subscription is the Stream produced by polling the sidecar head.
type Subscription struct {
	headers chan Header
	done    chan struct{}
	err     error
}

func (s *Subscription) Headers() <-chan Header {
	return s.headers
}

// Err blocks until the subscription has ended.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}

// Option tweaks a KamiHeaderSource.
type Option func(*KamiHeaderSource)

func WithPollInterval(d time.Duration) Option {
	return func(k *KamiHeaderSource) { k.pollInterval = d }
}

func WithRetryMax(n int) Option {
	return func(k *KamiHeaderSource) { k.httpClient.RetryMax = n }
}

func WithHTTPClient(c *http.Client) Option {
	return func(k *KamiHeaderSource) { k.httpClient.HTTPClient = c }
}
