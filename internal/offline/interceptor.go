package offline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/page-shelf/page-shelf/internal/cache"
	"github.com/page-shelf/page-shelf/internal/logging"
	"github.com/page-shelf/page-shelf/internal/server"
)

// Handle 执行单个请求的拦截策略：命中 generation 内的快照则直接回放，
// 未命中则回源，可缓存的响应在返回之后异步写入缓存（fire-and-forget，
// 请求方永远不等待缓存写入，写入失败也不影响已返回的响应）。
// 同一 key 的并发未命中各自回源、各自写入，后写覆盖先写。
func (m *Manager) Handle(c fiber.Ctx, generation string) error {
	started := time.Now()
	requestID := server.RequestID(c)

	if generation == "" {
		return m.writeError(c, fiber.StatusServiceUnavailable, "not_activated")
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	method := c.Method()
	if method != http.MethodGet && method != http.MethodHead {
		// 非幂等资源请求不参与缓存，原样透传。
		return m.passThrough(c, ctx, generation, requestID, started)
	}

	uri := c.Request().URI()
	rawPath := string(uri.Path())
	rawQuery := string(uri.QueryString())
	key := cache.RequestKey(rawPath, rawQuery)

	store, err := m.registry.Open(ctx, generation)
	if err != nil {
		// 缓存不可用降级为纯回源，属于 best-effort 故障。
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "handle",
			"generation": generation,
		}).Warn("cache_open_failed")
		store = nil
	}

	if store != nil {
		snap, err := store.Get(ctx, key)
		switch {
		case err == nil:
			m.serveSnapshot(c, snap, generation, true)
			m.logResult(generation, method, key, snap.Status, true, requestID, started, nil)
			return nil
		case errors.Is(err, cache.ErrNotFound):
			// miss, continue
		default:
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "handle",
				"generation": generation,
				"key":        key,
			}).Warn("cache_get_failed")
		}
	}

	result, err := m.fetchResource(ctx, rawPath, rawQuery, fiberHeadersAsHTTP(c))
	if err != nil {
		m.logResult(generation, method, key, 0, false, requestID, started, err)
		return m.writeError(c, fiber.StatusBadGateway, "origin_failed")
	}

	if store != nil && result.eligible && method == http.MethodGet {
		m.storeAsync(store, generation, key, result.snap.Clone())
	}

	m.serveSnapshot(c, result.snap, generation, false)
	m.logResult(generation, method, key, result.snap.Status, false, requestID, started, nil)
	return nil
}

// storeAsync 在后台写入快照。写入独立于响应返回，使用 background
// context，不随请求取消；失败仅通过日志与 WriteErrorHook 旁路暴露。
func (m *Manager) storeAsync(store cache.Store, generation, key string, snap *cache.Snapshot) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := store.Put(context.Background(), key, snap); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_write",
				"generation": generation,
				"key":        key,
			}).Warn("cache_write_failed")
			if m.writeErrHook != nil {
				m.writeErrHook(generation, key, err)
			}
		}
	}()
}

func (m *Manager) serveSnapshot(c fiber.Ctx, snap *cache.Snapshot, generation string, hit bool) {
	for key, values := range snap.Header {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	c.Set("X-Page-Shelf-Generation", generation)
	if hit {
		c.Set("X-Page-Shelf-Cache-Hit", "true")
	} else {
		c.Set("X-Page-Shelf-Cache-Hit", "false")
	}
	c.Response().Header.SetContentLength(len(snap.Body))
	c.Status(snap.Status)

	if c.Method() == http.MethodHead {
		return
	}
	_, _ = c.Response().BodyWriter().Write(snap.Body)
}

// passThrough 将请求原样转发至 origin 并流式回写响应，不读缓存也不写缓存。
func (m *Manager) passThrough(c fiber.Ctx, ctx context.Context, generation, requestID string, started time.Time) error {
	uri := c.Request().URI()
	relative := &url.URL{Path: string(uri.Path()), RawQuery: string(uri.QueryString())}
	target := m.origin.ResolveReference(relative)

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), bytesReader(c.Body()))
	if err != nil {
		return m.writeError(c, fiber.StatusBadGateway, "origin_failed")
	}
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Host")
	req.Host = target.Host

	resp, err := m.client.Do(req)
	if err != nil {
		m.logResult(generation, c.Method(), relative.Path, 0, false, requestID, started, err)
		return m.writeError(c, fiber.StatusBadGateway, "origin_failed")
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
	c.Set("X-Page-Shelf-Cache-Hit", "false")
	c.Status(resp.StatusCode)

	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	m.logResult(generation, c.Method(), relative.Path, resp.StatusCode, false, requestID, started, copyErr)
	return nil
}

func (m *Manager) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (m *Manager) logResult(generation, method, key string, status int, cacheHit bool, requestID string, started time.Time, err error) {
	fields := logging.RequestFields(generation, method, key, cacheHit)
	fields["action"] = "handle"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error("handle_failed")
		return
	}
	m.logger.WithFields(fields).Info("handle_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
