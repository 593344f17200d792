package constraint

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paiban/staffplan/pkg/logger"
)

// Manager 约束规则管理器
type Manager struct {
	rules  []Rule
	mu     sync.RWMutex
	logger *logger.OptimizerLogger
}

// NewManager 创建约束管理器
func NewManager(rules ...Rule) *Manager {
	m := &Manager{
		rules:  make([]Rule, 0, len(rules)),
		logger: logger.NewOptimizerLogger(),
	}
	for _, r := range rules {
		m.Register(r)
	}
	return m
}

// Register 注册规则，同类型规则会被替换
func (m *Manager) Register(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.rules {
		if existing.Type() == r.Type() {
			m.rules[i] = r
			return
		}
	}

	m.rules = append(m.rules, r)

	// 硬约束在前，权重高的在前
	sort.SliceStable(m.rules, func(i, j int) bool {
		ri, rj := m.rules[i], m.rules[j]
		if ri.Category() != rj.Category() {
			return ri.Category() == CategoryHard
		}
		return ri.Weight() > rj.Weight()
	})
}

// GetAll 获取所有规则（按写入顺序）
func (m *Manager) GetAll() []Rule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Rule, len(m.rules))
	copy(result, m.rules)
	return result
}

// Apply 按顺序把所有规则写入模型
func (m *Manager) Apply(b *Builder) error {
	for _, r := range m.GetAll() {
		before := len(b.Model.Rows)
		if err := r.Apply(b); err != nil {
			m.logger.ConstraintViolation(r.Name(), err.Error())
			return fmt.Errorf("规则 %s 写入失败: %w", r.Name(), err)
		}
		b.rowsByRule[r.Type()] = len(b.Model.Rows) - before
	}
	return nil
}
