package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/page-shelf/page-shelf/internal/cache"
	"github.com/page-shelf/page-shelf/internal/lifecycle"
	"github.com/page-shelf/page-shelf/internal/offline"
	"github.com/page-shelf/page-shelf/internal/server"
)

// siteStub 模拟被离线缓存的静态站点：按路径返回固定页面并记录命中。
type siteStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newSiteStub(t *testing.T, pages map[string]string) *siteStub {
	t.Helper()

	stub := &siteStub{
		pages: make(map[string]string, len(pages)),
		hits:  make(map[string]int),
	}
	for p, body := range pages {
		stub.pages[p] = body
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start site stub listener: %v", err)
	}

	srv := &http.Server{Handler: http.HandlerFunc(stub.handle)}
	stub.server = srv
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = srv.Serve(listener)
	}()

	return stub
}

func (s *siteStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *siteStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	body, ok := s.pages[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = io.WriteString(w, body)
}

func (s *siteStub) SetPage(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[path] = body
}

func (s *siteStub) RemovePage(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pages, path)
}

func (s *siteStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// offlineStack 组装完整服务栈：存储 + 管理器 + 生命周期驱动 + Fiber 应用。
type offlineStack struct {
	app      *fiber.App
	driver   *lifecycle.Driver
	manager  *offline.Manager
	registry cache.Registry
}

func newOfflineStack(t *testing.T, stub *siteStub, backend string) *offlineStack {
	t.Helper()

	registry, err := cache.NewRegistry(backend, t.TempDir())
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	t.Cleanup(func() { _ = registry.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	origin, err := url.Parse(stub.URL)
	if err != nil {
		t.Fatalf("parse origin: %v", err)
	}

	manager, err := offline.NewManager(offline.Options{
		Client:   server.NewOriginClient(0),
		Logger:   logger,
		Registry: registry,
		Origin:   origin,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}

	driver, err := lifecycle.NewDriver(manager, registry, logger)
	if err != nil {
		t.Fatalf("driver error: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    driver,
		Inspector:  driver,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}

	return &offlineStack{
		app:      app,
		driver:   driver,
		manager:  manager,
		registry: registry,
	}
}

func (s *offlineStack) get(t *testing.T, target string) (*http.Response, string) {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}
