package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Collect 删除除激活 generation 之外的所有 generation。每个删除相互
// 独立：单个失败只记录并继续，不阻塞其余删除。一轮无故障的收集之后，
// 存储中只剩下激活的 generation。
func (m *Manager) Collect(ctx context.Context, active string) error {
	if active == "" {
		return errors.New("active generation required")
	}

	names, err := m.registry.Generations(ctx)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	var failures []error
	removed := 0
	for _, name := range names {
		if name == active {
			continue
		}
		if err := m.registry.Drop(ctx, name); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "collect",
				"generation": name,
			}).Warn("generation_drop_failed")
			failures = append(failures, fmt.Errorf("drop %s: %w", name, err))
			continue
		}
		removed++
	}

	m.logger.WithFields(logrus.Fields{
		"action":  "collect",
		"active":  active,
		"removed": removed,
		"failed":  len(failures),
	}).Info("collect_complete")

	return errors.Join(failures...)
}
