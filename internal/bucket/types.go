// Package bucket serves a participant's slice objects over HTTP and provides
// the client every other participant uses to read them.
package bucket

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/tensorplex-labs/templar/pkg/signature"
)

const (
	SignatureHeader string = "x-signature"
	HotkeyHeader    string = "x-hotkey"
	MessageHeader   string = "x-message"

	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8080
	DefaultBodyLimit  = 64 * 1024 * 1024

	DefaultClientTimeout = 30 * time.Second

	// MaxClockSkew bounds how old a signed write request may be.
	MaxClockSkew = 5 * time.Minute

	slicesRoute = "/slices"
	healthRoute = "/health"
)

// Server exposes one directory of slice objects. Anyone may read; only the
// owner hotkey may write or delete.
type Server struct {
	App      *fiber.App
	config   *ServerConfig
	verifier signature.SignatureVerifier
	now      func() time.Time
}

type ServerConfig struct {
	Host      string
	Port      int
	BodyLimit int
	Dir       string
	Owner     string
}

// StdResponse represents the standardized response structure
type StdResponse[T any] struct {
	Body  T       `json:"body"`
	Error *string `json:"error,omitempty"`
}

type ListResponse struct {
	Keys []string `json:"keys"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

// AuthParams holds authentication parameters for requests
type AuthParams struct {
	Hotkey    string
	Message   string
	Signature string
}

type ClientConfig struct {
	Timeout time.Duration
	// Signer authenticates writes. Reads need no signer.
	Signer signature.Signer
}

// Client implements slices.Remote against bucket servers.
type Client struct {
	config      *ClientConfig
	restyClient *resty.Client
}
