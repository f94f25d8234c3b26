// Package lifecycle owns the install/activate事件与 generation 状态机：
// installing → active → superseded/deleted。激活时机由宿主决定，
// install 与 activate 之间允许任意长的窗口。
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/page-shelf/page-shelf/internal/cache"
	"github.com/page-shelf/page-shelf/internal/offline"
)

// State 描述单个 generation 在生命周期中的位置。
type State string

const (
	StateInstalling State = "installing"
	StateActive     State = "active"
	StateSuperseded State = "superseded"
)

// Driver 是调用方持有的生命周期驱动：Install 触发预加载，Activate
// 提升激活 generation 并触发收集，拦截请求始终使用当前激活的
// generation。Driver 不持有任何全局注册状态，可在测试中并存多个实例。
type Driver struct {
	manager  *offline.Manager
	registry cache.Registry
	logger   *logrus.Logger

	active atomic.Value // string

	mu     sync.Mutex
	states map[string]State
}

// NewDriver 构造生命周期驱动。
func NewDriver(manager *offline.Manager, registry cache.Registry, logger *logrus.Logger) (*Driver, error) {
	if manager == nil {
		return nil, errors.New("offline manager is required")
	}
	if registry == nil {
		return nil, errors.New("cache registry is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	d := &Driver{
		manager:  manager,
		registry: registry,
		logger:   logger,
		states:   make(map[string]State),
	}
	d.active.Store("")
	return d, nil
}

// Install 处理安装事件：将 generation 标记为 installing 并执行
// all-or-nothing 预加载。失败原样上抛给安装方，不自动重试。
func (d *Driver) Install(ctx context.Context, generation string, manifest []string) error {
	if generation == "" {
		return errors.New("generation name required")
	}

	d.mu.Lock()
	d.states[generation] = StateInstalling
	d.mu.Unlock()

	if err := d.manager.Preload(ctx, generation, manifest); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "install",
			"generation": generation,
		}).Error("install_failed")
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"action":     "install",
		"generation": generation,
		"manifest":   len(manifest),
	}).Info("install_complete")
	return nil
}

// Activate 处理激活事件：先原子切换激活 generation，再收集被取代的
// generation。收集失败只记录，不回滚激活——旧 generation 会在下一次
// 激活时再次进入收集。
func (d *Driver) Activate(ctx context.Context, generation string) error {
	if generation == "" {
		return errors.New("generation name required")
	}

	previous := d.Active()
	d.active.Store(generation)

	d.mu.Lock()
	for name := range d.states {
		if name != generation {
			d.states[name] = StateSuperseded
		}
	}
	d.states[generation] = StateActive
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"action":     "activate",
		"generation": generation,
		"previous":   previous,
	}).Info("activate_complete")

	if err := d.manager.Collect(ctx, generation); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "activate",
			"generation": generation,
		}).Warn("collect_incomplete")
	}
	return nil
}

// Active 返回当前激活的 generation，尚未激活时为空串。
func (d *Driver) Active() string {
	if value, ok := d.active.Load().(string); ok {
		return value
	}
	return ""
}

// State 返回指定 generation 的生命周期状态。
func (d *Driver) State(generation string) (State, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.states[generation]
	return state, ok
}

// Handle 将请求交给拦截器处理，绑定当前激活的 generation。
// 实现 server.ResourceHandler。
func (d *Driver) Handle(c fiber.Ctx) error {
	return d.manager.Handle(c, d.Active())
}

// Generations 透出存储中现存的 generation 列表。实现 server.Inspector。
func (d *Driver) Generations(ctx context.Context) ([]string, error) {
	return d.registry.Generations(ctx)
}
