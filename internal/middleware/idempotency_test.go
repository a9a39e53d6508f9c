package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wallet-service/wallet_service/internal/logging"
)

func setupTestApp(t *testing.T, handler fiber.Handler) (*fiber.App, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", handler)

	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	return app, mr
}

func postResource(t *testing.T, app *fiber.App, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body), resp.Header.Get(idempotencyReplayed)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	var calls atomic.Int32
	app, _ := setupTestApp(t, func(c *fiber.Ctx) error {
		calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})

	for i := 0; i < 2; i++ {
		status, _, _ := postResource(t, app, "")
		if status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}

	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", calls.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	var calls atomic.Int32
	app, _ := setupTestApp(t, func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": n})
	})

	status, payload, replayed := postResource(t, app, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}
	if replayed != "" {
		t.Fatalf("first response must not be marked as replayed")
	}

	// Second request should return the cached response without invoking handler again.
	status, cachedPayload, replayed := postResource(t, app, "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if replayed != "true" {
		t.Fatalf("expected replay marker, got %q", replayed)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	var calls atomic.Int32
	app, mr := setupTestApp(t, func(c *fiber.Ctx) error {
		if calls.Add(1) == 1 {
			return fiber.NewError(fiber.StatusConflict, "busy")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
	})

	status, body, _ := postResource(t, app, "retry-me")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
	if !strings.Contains(body, `"path":"/resource"`) {
		t.Fatalf("expected error body with path, got %s", body)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("expected key to be released, found %v", keys)
	}

	status, _, _ = postResource(t, app, "retry-me")
	if status != fiber.StatusOK {
		t.Fatalf("expected retry to succeed, got %d", status)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", calls.Load())
	}
}

func TestIdempotencyInProgressConflicts(t *testing.T) {
	app, mr := setupTestApp(t, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	if err := mr.Set(idempotencyPrefix+"/resource:pending", inProgressMarker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	status, _, _ := postResource(t, app, "pending")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
}
