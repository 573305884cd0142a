package bucket

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/pkg/signature"
)

// WriteMessage is the text a writer signs to modify key.
func WriteMessage(method, key string, at time.Time) string {
	return fmt.Sprintf("%s %s %d", method, key, at.Unix())
}

func parseWriteMessage(message string) (method, key string, at time.Time, err error) {
	parts := strings.Fields(message)
	if len(parts) != 3 {
		return "", "", time.Time{}, fmt.Errorf("malformed message %q", message)
	}
	unix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("malformed timestamp in message: %w", err)
	}
	return parts[0], parts[1], time.Unix(unix, 0), nil
}

// OwnerMiddleware admits the request only when it carries a fresh signature
// by owner over the request method and object key.
func OwnerMiddleware(verifier signature.SignatureVerifier, owner string, now func() time.Time) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sig := c.Get(SignatureHeader)
		hotkey := c.Get(HotkeyHeader)
		message := c.Get(MessageHeader)

		if hotkey == "" || sig == "" || message == "" {
			errMsg := fmt.Sprintf("%s, missing headers, expected: %s, %s, %s",
				http.StatusText(http.StatusBadRequest),
				SignatureHeader, HotkeyHeader, MessageHeader)
			return c.Status(fiber.StatusBadRequest).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		if hotkey != owner {
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("hotkey %s does not own this bucket", hotkey)))
		}

		method, key, at, err := parseWriteMessage(message)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(createResponse(map[string]interface{}{}, err))
		}
		if method != c.Method() || key != c.Params("key") {
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("signed message does not cover %s %s", c.Method(), c.Params("key"))))
		}
		if skew := now().Sub(at); skew > MaxClockSkew || skew < -MaxClockSkew {
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("signed message expired")))
		}

		valid, err := verifier.Verify(message, sig, hotkey)
		if err != nil {
			errMsg := fmt.Sprintf("Signature verification error: %s", err.Error())
			return c.Status(fiber.StatusBadRequest).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}
		if !valid {
			errMsg := fmt.Sprintf("%s due to invalid signature", http.StatusText(http.StatusForbidden))
			return c.Status(fiber.StatusForbidden).JSON(
				createResponse(map[string]interface{}{}, fmt.Errorf("%s", errMsg)))
		}

		log.Trace().
			Str("hotkey", hotkey).
			Str("message", message).
			Msg("verified write signature")

		return c.Next()
	}
}

// createResponse creates a StdResponse with the given body and error
func createResponse[T any](body T, err error) StdResponse[T] {
	if err != nil {
		errMsg := err.Error()
		return StdResponse[T]{Body: body, Error: &errMsg}
	}
	return StdResponse[T]{Body: body}
}
