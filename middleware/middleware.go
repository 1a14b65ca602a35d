// middleware/middleware.go
package middleware

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/types"
)

type Middleware func(ref core.EntryRef, next core.Accessor) core.Accessor

// 中间件链，第一个中间件在最外层
func Chain(middlewares ...Middleware) core.Wrapper {
	return func(ref core.EntryRef, final core.Accessor) core.Accessor {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](ref, final)
		}
		return final
	}
}

// 日志中间件
func Logger(logger *slog.Logger) Middleware {
	return func(ref core.EntryRef, next core.Accessor) core.Accessor {
		return func() (types.Definition, error) {
			start := time.Now()
			logger.Debug("constructing definition", "ref", ref.String())

			def, err := next()

			duration := time.Since(start)
			if err != nil {
				logger.Warn("definition construction failed", "ref", ref.String(), "duration", duration, "error", err)
			} else {
				logger.Debug("definition constructed", "ref", ref.String(), "duration", duration)
			}
			return def, err
		}
	}
}

// 指标收集中间件
func Metrics(c *Counters) Middleware {
	return func(ref core.EntryRef, next core.Accessor) core.Accessor {
		return func() (types.Definition, error) {
			start := time.Now()
			def, err := next()
			c.record(ref.String(), time.Since(start), err)
			return def, err
		}
	}
}

// Stat 单个条目的构造统计
type Stat struct {
	Ref           string        `json:"ref"`
	Constructions int           `json:"constructions"`
	Failures      int           `json:"failures"`
	LastDuration  time.Duration `json:"last_duration_ns"`
}

// Counters 进程内构造计数
type Counters struct {
	mu    sync.Mutex
	stats map[string]*Stat
}

func NewCounters() *Counters {
	return &Counters{stats: make(map[string]*Stat)}
}

func (c *Counters) record(ref string, d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stats[ref]
	if !ok {
		s = &Stat{Ref: ref}
		c.stats[ref] = s
	}
	s.Constructions++
	if err != nil {
		s.Failures++
	}
	s.LastDuration = d
}

// Snapshot 按ref排序的统计副本
func (c *Counters) Snapshot() []Stat {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Stat, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}
