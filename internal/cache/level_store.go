package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	levelGenPrefix   = "g:"
	levelEntryPrefix = "e:"
)

// NewLevelRegistry 构建 LevelDB 后端。所有 generation 共享同一个 DB，
// 通过键前缀 e:<generation>: 相互隔离，g:<generation> 作为存在标记，
// 保证空 generation 也可被枚举。
func NewLevelRegistry(basePath string) (Registry, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	db, err := leveldb.OpenFile(basePath, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}

	return &levelRegistry{
		db:   db,
		open: make(map[string]*levelStore),
	}, nil
}

type levelRegistry struct {
	db *leveldb.DB

	mu   sync.Mutex
	open map[string]*levelStore
}

func (r *levelRegistry) Open(ctx context.Context, generation string) (Store, error) {
	if err := validGenerationName(generation); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.open[generation]; ok {
		return st, nil
	}

	if err := r.db.Put([]byte(levelGenPrefix+generation), nil, nil); err != nil {
		return nil, fmt.Errorf("mark generation: %w", err)
	}

	st := &levelStore{db: r.db, generation: generation}
	r.open[generation] = st
	return st, nil
}

func (r *levelRegistry) Generations(ctx context.Context) ([]string, error) {
	it := r.db.NewIterator(util.BytesPrefix([]byte(levelGenPrefix)), nil)
	defer it.Release()

	var names []string
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), levelGenPrefix))
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

func (r *levelRegistry) Drop(ctx context.Context, generation string) error {
	if err := validGenerationName(generation); err != nil {
		return err
	}

	r.mu.Lock()
	if st, ok := r.open[generation]; ok {
		st.dropped.Store(true)
		delete(r.open, generation)
	}
	r.mu.Unlock()

	batch := new(leveldb.Batch)
	batch.Delete([]byte(levelGenPrefix + generation))

	prefix := []byte(levelEntryPrefix + generation + ":")
	it := r.db.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	iterErr := it.Error()
	it.Release()
	if iterErr != nil {
		return fmt.Errorf("drop generation %s: %w", generation, iterErr)
	}

	if err := r.db.Write(batch, nil); err != nil {
		return fmt.Errorf("drop generation %s: %w", generation, err)
	}
	return nil
}

func (r *levelRegistry) Close() error {
	return r.db.Close()
}

type levelStore struct {
	db         *leveldb.DB
	generation string
	dropped    atomic.Bool
}

func (s *levelStore) Name() string {
	return s.generation
}

func (s *levelStore) entryKey(key string) []byte {
	return []byte(levelEntryPrefix + s.generation + ":" + key)
}

func (s *levelStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := s.db.Get(s.entryKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeSnapshot(data)
}

func (s *levelStore) Put(ctx context.Context, key string, snap *Snapshot) error {
	if s.dropped.Load() {
		return ErrGenerationDropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := s.db.Put(s.entryKey(key), data, nil); err != nil {
		return err
	}

	// Put 与 Drop 的批量删除可能交错，删除优先：补删后报告写入失败。
	if s.dropped.Load() {
		_ = s.db.Delete(s.entryKey(key), nil)
		return ErrGenerationDropped
	}
	return nil
}

func (s *levelStore) Delete(ctx context.Context, key string) error {
	return s.db.Delete(s.entryKey(key), nil)
}
