package offline

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/page-shelf/page-shelf/internal/cache"
)

// PreloadError 标识预加载批次中第一个失败的资源。批次整体作废，
// generation 不会保留本批次的任何条目。
type PreloadError struct {
	Resource string
	Err      error
}

func (e *PreloadError) Error() string {
	return fmt.Sprintf("preload %s: %v", e.Resource, e.Err)
}

func (e *PreloadError) Unwrap() error {
	return e.Err
}

// Preload 将 manifest 中的全部资源拉取并写入指定 generation。
// 策略是 all-or-nothing：先并发拉取并暂存于内存，全部成功后才落库；
// 任何一个资源失败（网络错误、非 2xx、不可缓存响应）都会使整个批次
// 失败，generation 中不会出现本批次的部分条目。失败上抛给安装方，
// 组件自身不重试。
func (m *Manager) Preload(ctx context.Context, generation string, manifest []string) error {
	store, err := m.registry.Open(ctx, generation)
	if err != nil {
		return fmt.Errorf("open generation %s: %w", generation, err)
	}
	if len(manifest) == 0 {
		return nil
	}

	keys := make([]string, len(manifest))
	staged := make([]*cache.Snapshot, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, resource := range manifest {
		g.Go(func() error {
			parsed, err := url.Parse(resource)
			if err != nil {
				return &PreloadError{Resource: resource, Err: err}
			}

			result, err := m.fetchResource(gctx, parsed.Path, parsed.RawQuery, nil)
			if err != nil {
				return &PreloadError{Resource: resource, Err: err}
			}
			if !result.eligible {
				return &PreloadError{
					Resource: resource,
					Err:      fmt.Errorf("ineligible response: status %d", result.snap.Status),
				}
			}

			keys[i] = cache.RequestKey(parsed.Path, parsed.RawQuery)
			staged[i] = result.snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// 提交阶段。中途写入失败时回滚本批次已写入的条目，
	// 维持 all-or-nothing 语义。
	committed := make([]string, 0, len(keys))
	for i := range keys {
		if err := store.Put(ctx, keys[i], staged[i]); err != nil {
			for _, key := range committed {
				_ = store.Delete(ctx, key)
			}
			return &PreloadError{Resource: manifest[i], Err: err}
		}
		committed = append(committed, keys[i])
	}

	m.logger.WithFields(logrus.Fields{
		"action":     "preload",
		"generation": generation,
		"entries":    len(manifest),
	}).Info("preload_complete")
	return nil
}
