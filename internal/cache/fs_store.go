package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// NewFSRegistry 以 basePath 为根目录构建文件系统后端，每个 generation
// 对应一个子目录，每个条目对应一个 msgpack 快照文件。
func NewFSRegistry(basePath string) (Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsRegistry{
		basePath: abs,
		open:     make(map[string]*fsStore),
	}, nil
}

// fsRegistry 复用已打开的 fsStore 句柄，保证 Drop 能使同一 generation
// 的所有在途写入观察到 dropped 标记。
type fsRegistry struct {
	basePath string

	mu   sync.Mutex
	open map[string]*fsStore
}

func (r *fsRegistry) Open(ctx context.Context, generation string) (Store, error) {
	if err := validGenerationName(generation); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.open[generation]; ok {
		return st, nil
	}

	dir := filepath.Join(r.basePath, generation)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create generation dir: %w", err)
	}

	st := &fsStore{
		generation: generation,
		dir:        dir,
		locks:      make(map[string]*entryLock),
	}
	r.open[generation] = st
	return st, nil
}

func (r *fsRegistry) Generations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

func (r *fsRegistry) Drop(ctx context.Context, generation string) error {
	if err := validGenerationName(generation); err != nil {
		return err
	}

	r.mu.Lock()
	if st, ok := r.open[generation]; ok {
		st.dropped.Store(true)
		delete(r.open, generation)
	}
	r.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(r.basePath, generation)); err != nil {
		return fmt.Errorf("drop generation %s: %w", generation, err)
	}
	return nil
}

func (r *fsRegistry) Close() error {
	return nil
}

// fsStore 通过 entryLock 避免同一 key 并发写入同一文件，写入采用
// 临时文件 + rename 保证原子性。
type fsStore struct {
	generation string
	dir        string
	dropped    atomic.Bool

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fsStore) Name() string {
	return s.generation
}

func (s *fsStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return decodeSnapshot(data)
}

func (s *fsStore) Put(ctx context.Context, key string, snap *Snapshot) error {
	if s.dropped.Load() {
		return ErrGenerationDropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".snap-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return writeErr
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}

	// rename 之后 Drop 可能已经清空目录，删除优先：撤销本次写入。
	if s.dropped.Load() {
		os.Remove(filePath)
		return ErrGenerationDropped
	}
	return nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	unlock := s.lockEntry(key)
	defer unlock()

	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fsStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 将缓存键映射到 generation 目录下的文件路径。查询串会被
// 哈希为 __qs 段，避免出现文件系统非法字符。
func (s *fsStore) entryPath(key string) (string, error) {
	rel := key
	if idx := strings.IndexByte(rel, '?'); idx >= 0 {
		sum := sha1.Sum([]byte(rel[idx+1:]))
		rel = fmt.Sprintf("%s/__qs/%s", rel[:idx], hex.EncodeToString(sum[:]))
	}

	if rel == "" || rel == "/" {
		rel = "root"
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		rel = "root"
	}

	filePath := filepath.Join(s.dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, s.dir) {
		return "", errors.New("invalid cache key")
	}
	return filePath, nil
}
