package bucket

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/slices"
	"github.com/tensorplex-labs/templar/internal/utils/fsutil"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

// NewServer creates the bucket server for serverConfig.Owner over serverConfig.Dir.
func NewServer(serverConfig *ServerConfig, verifier signature.SignatureVerifier) (*Server, error) {
	if serverConfig == nil || serverConfig.Dir == "" || serverConfig.Owner == "" {
		return nil, errors.New("bucket server requires a directory and an owner")
	}
	if serverConfig.Host == "" {
		serverConfig.Host = DefaultServerHost
	}
	if serverConfig.Port == 0 {
		serverConfig.Port = DefaultServerPort
	}
	if serverConfig.BodyLimit == 0 {
		serverConfig.BodyLimit = DefaultBodyLimit
	}
	if verifier == nil {
		verifier = signature.NewVerifier()
	}
	if err := os.MkdirAll(serverConfig.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket directory: %w", err)
	}

	log.Info().
		Any("serverConfig", serverConfig).
		Msg("Bucket server configuration loaded")

	app := fiber.New(fiber.Config{
		Prefork:               false,
		DisableStartupMessage: true,
		ErrorHandler:          fiberErrHandler,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		BodyLimit:             serverConfig.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	s := &Server{
		App:      app,
		config:   serverConfig,
		verifier: verifier,
		now:      time.Now,
	}

	app.Get(healthRoute, s.health)
	app.Get(slicesRoute, s.list)
	app.Get(slicesRoute+"/:key", s.get)

	owner := OwnerMiddleware(verifier, serverConfig.Owner, func() time.Time { return s.now() })
	app.Put(slicesRoute+"/:key", owner, s.put)
	app.Delete(slicesRoute+"/:key", owner, s.delete)

	return s, nil
}

func fiberErrHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	log.Error().
		Err(err).
		Int("status_code", code).
		Str("path", ctx.Path()).
		Str("method", ctx.Method()).
		Msg("Fiber error handler triggered")

	return ctx.Status(code).JSON(createResponse(map[string]interface{}{}, err))
}

// objectPath resolves key inside the bucket directory, rejecting anything that
// is not a well formed slice key.
func (s *Server) objectPath(key string) (string, error) {
	if key != filepath.Base(key) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	if _, _, _, err := slices.ParseKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.config.Dir, key), nil
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(createResponse(HealthResponse{Status: "ok", Owner: s.config.Owner}, nil))
}

func (s *Server) list(c *fiber.Ctx) error {
	prefix := c.Query("prefix")

	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, _, _, err := slices.ParseKey(name); err != nil {
			continue
		}
		keys = append(keys, name)
	}
	sort.Strings(keys)

	return c.JSON(createResponse(ListResponse{Keys: keys}, nil))
}

func (s *Server) get(c *fiber.Ctx) error {
	path, err := s.objectPath(c.Params("key"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fiber.NewError(fiber.StatusNotFound, "object not found")
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.Send(data)
}

func (s *Server) put(c *fiber.Ctx) error {
	key := c.Params("key")
	path, err := s.objectPath(key)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if _, _, producer, _ := slices.ParseKey(key); producer != s.config.Owner {
		return fiber.NewError(fiber.StatusForbidden, "bucket only stores its owner's slices")
	}

	body := c.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty object")
	}
	data := make([]byte, len(body))
	copy(data, body)

	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("stored object")
	return c.Status(fiber.StatusCreated).JSON(createResponse(map[string]interface{}{}, nil))
}

func (s *Server) delete(c *fiber.Ctx) error {
	key := c.Params("key")
	path, err := s.objectPath(key)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := fsutil.RemoveIfExists(path); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(createResponse(map[string]interface{}{}, nil))
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	log.Info().Str("address", addr).Str("dir", s.config.Dir).Msg("Bucket server listening")
	return s.App.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.App.ShutdownWithContext(ctx)
}
