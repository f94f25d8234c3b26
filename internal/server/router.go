package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ResourceHandler describes the component responsible for answering resource
// requests from the cache or the origin. It allows injecting fake handlers
// during tests.
type ResourceHandler interface {
	Handle(fiber.Ctx) error
}

// ResourceHandlerFunc adapts a function to the ResourceHandler interface.
type ResourceHandlerFunc func(fiber.Ctx) error

// Handle makes ResourceHandlerFunc satisfy ResourceHandler.
func (f ResourceHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// Inspector 暴露诊断端点需要的生命周期视图：当前激活的 generation
// 与存储中现存的 generation 列表。
type Inspector interface {
	Active() string
	Generations(ctx context.Context) ([]string, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    ResourceHandler
	Inspector  Inspector
	ListenPort int
}

const contextKeyRequestID = "_pageshelf_request_id"

// NewApp builds a Fiber application with request-ID middleware, diagnostics
// endpoints and structured error handling. Everything outside /-/ is routed
// to the resource handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("resource handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/-/health", func(c fiber.Ctx) error {
		payload := fiber.Map{"status": "ok"}
		if opts.Inspector != nil {
			payload["generation"] = opts.Inspector.Active()
		}
		return c.JSON(payload)
	})

	app.Get("/-/generations", func(c fiber.Ctx) error {
		if opts.Inspector == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "diagnostics_disabled"})
		}
		names, err := opts.Inspector.Generations(c.Context())
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action": "diagnostics",
			}).WithError(err).Warn("generation_list_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "generation_list_failed"})
		}
		return c.JSON(fiber.Map{
			"active":      opts.Inspector.Active(),
			"generations": names,
		})
	})

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_diagnostics_path"})
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责为每个请求生成并回写请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
