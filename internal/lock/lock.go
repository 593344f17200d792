// Package lock 提供按日期键加锁的范围锁，保证重叠范围的运行互斥
package lock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/paiban/staffplan/pkg/errors"
	"github.com/paiban/staffplan/pkg/logger"
)

// Options 锁配置
type Options struct {
	TTL           time.Duration // 仅 redis 使用
	WaitTimeout   time.Duration // 0 表示不等待，被占用立即失败
	RetryInterval time.Duration
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		TTL:           2 * time.Minute,
		RetryInterval: 100 * time.Millisecond,
	}
}

// ScopeLocker 范围锁
type ScopeLocker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

// LocalLocker 进程内范围锁，全部键一次性获取，不会出现部分持有
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
	opts Options
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker(opts Options) *LocalLocker {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultOptions().RetryInterval
	}
	return &LocalLocker{held: make(map[string]bool), opts: opts}
}

// Lock 获取全部键，超过等待时间返回 SCOPE_LOCKED
func (l *LocalLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = normalizeKeys(keys)
	err := retry(ctx, l.opts, scopeName(keys), func() (bool, error) {
		return l.tryLock(keys), nil
	})
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(keys) })
	}, nil
}

func (l *LocalLocker) tryLock(keys []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if l.held[k] {
			return false
		}
	}
	for _, k := range keys {
		l.held[k] = true
	}
	return true
}

func (l *LocalLocker) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		delete(l.held, k)
	}
}

// retry 反复尝试直到成功、超时或上下文取消
func retry(ctx context.Context, opts Options, scope string, try func() (bool, error)) error {
	var deadline time.Time
	if opts.WaitTimeout > 0 {
		deadline = time.Now().Add(opts.WaitTimeout)
	}
	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if deadline.IsZero() || time.Now().After(deadline) {
			logger.Warn().Str("scope", scope).Msg("范围已被其他运行锁定")
			return apperrors.ScopeLocked(scope)
		}

		timer := time.NewTimer(opts.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.Wrap(ctx.Err(), apperrors.CodeScopeLocked, "等待范围锁时被取消")
		case <-timer.C:
		}
	}
}

// normalizeKeys 去重并排序，保证多个进程按相同顺序加锁
func normalizeKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func scopeName(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	}
	return strings.Join([]string{keys[0], keys[len(keys)-1]}, "..")
}
