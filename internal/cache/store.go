package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound 表示缓存条目不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrGenerationDropped 表示目标 generation 已被回收，写入方应放弃本次写入。
// 这是 handle 写入与并发 collect 之间的确定性裁决：删除优先。
var ErrGenerationDropped = errors.New("generation dropped")

// Store 是单个 generation 的读写句柄。条目一旦写入即视为不可变，
// 对同一 key 的再次 Put 整体覆盖旧快照，不做合并。
type Store interface {
	// Name 返回该句柄绑定的 generation 名称。
	Name() string

	// Get 返回 key 对应的响应快照，不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) (*Snapshot, error)

	// Put 原子写入快照。generation 已被 Drop 时返回 ErrGenerationDropped。
	Put(ctx context.Context, key string, snap *Snapshot) error

	// Delete 删除单个条目，条目不存在时不报错。预加载失败回滚时使用。
	Delete(ctx context.Context, key string) error
}

// Registry 是宿主持久化缓存设施的抽象：按名称打开 generation、
// 枚举现存 generation、整体删除某个 generation。
type Registry interface {
	// Open 打开（必要时创建）一个 generation 并返回其 Store 句柄。
	Open(ctx context.Context, generation string) (Store, error)

	// Generations 返回现存 generation 名称，按字典序排列。
	Generations(ctx context.Context) ([]string, error)

	// Drop 整体删除一个 generation 及其全部条目。删除不存在的
	// generation 不报错。已打开的 Store 句柄随之失效。
	Drop(ctx context.Context, generation string) error

	// Close 释放底层资源（如 LevelDB 句柄）。
	Close() error
}

// Backend names accepted by NewRegistry.
const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
)

// NewRegistry 根据配置的后端名构建 Registry，未知后端返回错误。
func NewRegistry(backend, basePath string) (Registry, error) {
	switch backend {
	case BackendFS, "":
		return NewFSRegistry(basePath)
	case BackendLevelDB:
		return NewLevelRegistry(basePath)
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

// validGenerationName 校验 generation 名称可以安全用作目录名/键前缀。
func validGenerationName(generation string) error {
	if generation == "" {
		return errors.New("generation name required")
	}
	if strings.ContainsAny(generation, "/\\:") {
		return fmt.Errorf("invalid generation name: %s", generation)
	}
	if generation == "." || generation == ".." {
		return fmt.Errorf("invalid generation name: %s", generation)
	}
	return nil
}
