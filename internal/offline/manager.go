package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/page-shelf/page-shelf/internal/cache"
	"github.com/page-shelf/page-shelf/internal/server"
)

const defaultPreloadConcurrency = 4

// WriteErrorHook 是缓存写入失败的旁路观测通道。写入失败不会传播给
// 请求方，但通过该钩子对测试与指标可见。
type WriteErrorHook func(generation, key string, err error)

// Options 汇总 Manager 的全部依赖，与 server.AppOptions 同一风格。
type Options struct {
	Client             *http.Client
	Logger             *logrus.Logger
	Registry           cache.Registry
	Origin             *url.URL
	PreloadConcurrency int
	WriteErrorHook     WriteErrorHook
}

// Manager orchestrates preload/handle/collect over the shared generation
// store. It is safe for concurrent use; individual cache writes race by
// design (last write wins).
type Manager struct {
	client       *http.Client
	logger       *logrus.Logger
	registry     cache.Registry
	origin       *url.URL
	concurrency  int
	writeErrHook WriteErrorHook

	wg sync.WaitGroup
}

// NewManager 构造 Manager 并校验必需依赖。
func NewManager(opts Options) (*Manager, error) {
	if opts.Client == nil {
		return nil, errors.New("http client is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("cache registry is required")
	}
	if opts.Origin == nil || opts.Origin.Host == "" {
		return nil, errors.New("origin url is required")
	}

	concurrency := opts.PreloadConcurrency
	if concurrency <= 0 {
		concurrency = defaultPreloadConcurrency
	}

	return &Manager{
		client:       opts.Client,
		logger:       opts.Logger,
		registry:     opts.Registry,
		origin:       opts.Origin,
		concurrency:  concurrency,
		writeErrHook: opts.WriteErrorHook,
	}, nil
}

// Drain 等待所有在途的异步缓存写入完成，用于进程退出前或测试断言前。
func (m *Manager) Drain() {
	m.wg.Wait()
}

// fetchResult 携带一次回源的完整快照与可缓存性判定。
type fetchResult struct {
	snap     *cache.Snapshot
	eligible bool
}

// fetchResource 对 origin 发起 GET 并整体读入响应。eligible 为 true
// 表示响应可入库：2xx 状态且最终 URL 仍在配置的 origin 上（跟随重定向
// 离开 origin 的响应视为 opaque，不缓存）。
func (m *Manager) fetchResource(ctx context.Context, rawPath, rawQuery string, header http.Header) (*fetchResult, error) {
	relative := &url.URL{Path: rawPath, RawQuery: rawQuery}
	target := m.origin.ResolveReference(relative)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if header != nil {
		server.CopyHeaders(req.Header, header)
		req.Header.Del("Host")
	}
	// 快照按字节回放，存储压缩正文会导致命中时头部与正文不一致。
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	snap := &cache.Snapshot{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}
	snap.Header.Del("Content-Length")

	return &fetchResult{
		snap:     snap,
		eligible: isSuccessStatus(resp.StatusCode) && m.sameOrigin(resp.Request.URL),
	}, nil
}

func (m *Manager) sameOrigin(u *url.URL) bool {
	return u != nil && u.Scheme == m.origin.Scheme && u.Host == m.origin.Host
}

func isSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
