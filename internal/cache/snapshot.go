package cache

import (
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot 是某次成功响应在入库时刻的不可变快照：状态码、头部与完整正文。
// 拦截层命中时直接按快照回放，不再访问网络。
type Snapshot struct {
	Status   int         `msgpack:"status"`
	Header   http.Header `msgpack:"header"`
	Body     []byte      `msgpack:"body"`
	StoredAt time.Time   `msgpack:"stored_at"`
}

// Clone 返回快照的深拷贝，供异步写入路径持有，避免与响应回写共享底层数组。
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Status:   s.Status,
		Header:   make(http.Header, len(s.Header)),
		Body:     append([]byte(nil), s.Body...),
		StoredAt: s.StoredAt,
	}
	for k, vs := range s.Header {
		out.Header[k] = append([]string(nil), vs...)
	}
	return out
}

// RequestKey 将请求的路径与原始查询串规整为缓存键。本系统只缓存
// GET 类幂等资源请求，键即规范化后的 URL，不含方法与头部维度。
func RequestKey(rawPath, rawQuery string) string {
	if rawPath == "" {
		rawPath = "/"
	}
	clean := path.Clean("/" + rawPath)
	if rawQuery != "" {
		return clean + "?" + rawQuery
	}
	return clean
}

func encodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
