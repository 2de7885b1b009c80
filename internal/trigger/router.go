// Package trigger maps store writes onto handlers registered by path template.
//
// A template such as ghosts/{ghostId}/captureAttempts/{playerId} names a node
// shape. Every committed write is expanded into the concrete nodes it touched
// for each template, whether the write landed above, at, or below the node,
// and each node change becomes one model.Event routed through a sharded
// queue. Deliveries are deduplicated by change sequence and node path.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/okian/ghostcoop/internal/adapters/store"
	"github.com/okian/ghostcoop/internal/domain/dedupe"
	"github.com/okian/ghostcoop/internal/domain/model"
	"github.com/okian/ghostcoop/pkg/logger"
	"github.com/okian/ghostcoop/pkg/metrics"
)

const (
	defaultEnqueueTimeout = 5 * time.Second
	enqueueRetryDelay     = 2 * time.Millisecond
)

// Sentinel errors.
var (
	ErrInvalidTemplate = errors.New("invalid template")
	ErrNoRoute         = errors.New("no route for template")
)

// HandlerFunc handles one node change.
type HandlerFunc func(ctx context.Context, e model.Event) error

// Enqueuer accepts routed events.
type Enqueuer interface {
	Enqueue(ctx context.Context, e model.Event) bool
}

// Watcher exposes the store's raw change feed.
type Watcher interface {
	Watch(h func(store.Change)) (func(), error)
}

type route struct {
	template string
	segs     []string
	ops      map[model.Op]bool
	handler  HandlerFunc
}

// Router owns the template table, the dedupe set, and the enqueue side.
type Router struct {
	mu     sync.RWMutex
	routes map[string]*route
	order  []string

	queue          Enqueuer
	deduper        dedupe.Deduper
	enqueueTimeout time.Duration
	logger         logger.Logger
}

// NewRouter creates a router feeding q.
func NewRouter(q Enqueuer, opts ...Option) *Router {
	r := &Router{
		routes:         make(map[string]*route),
		queue:          q,
		deduper:        dedupe.NewInMemoryDeduper(),
		enqueueTimeout: defaultEnqueueTimeout,
		logger:         logger.Get().Named("trigger"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle registers h for template. With no ops, h sees created, updated and deleted.
func (r *Router) Handle(template string, h HandlerFunc, ops ...model.Op) error {
	segs := strings.Split(strings.Trim(template, "/"), "/")
	for _, s := range segs {
		if s == "" || (isParam(s) && len(s) < 3) {
			return fmt.Errorf("%w: %q", ErrInvalidTemplate, template)
		}
	}
	if len(ops) == 0 {
		ops = []model.Op{model.OpCreated, model.OpUpdated, model.OpDeleted}
	}
	rt := &route{template: template, segs: segs, ops: make(map[model.Op]bool), handler: h}
	for _, op := range ops {
		rt.ops[op] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.routes[template]; dup {
		return fmt.Errorf("%w: %q already registered", ErrInvalidTemplate, template)
	}
	r.routes[template] = rt
	r.order = append(r.order, template)
	return nil
}

// Templates returns the registered templates in registration order.
func (r *Router) Templates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Attach subscribes the router to w's change feed.
func (r *Router) Attach(ctx context.Context, w Watcher) (func(), error) {
	return w.Watch(func(c store.Change) { //nolint:gocritic // hugeParam: feed signature
		r.Route(ctx, &c)
	})
}

// Route expands c into node events and enqueues them. It returns the number enqueued.
func (r *Router) Route(ctx context.Context, c *store.Change) int {
	r.mu.RLock()
	routes := make([]*route, 0, len(r.order))
	for _, t := range r.order {
		routes = append(routes, r.routes[t])
	}
	r.mu.RUnlock()

	write := splitPath(c.Path)
	enqueued := 0
	for _, rt := range routes {
		for _, m := range expand(rt.segs, write, c) {
			before, after := c.Before(m.path), c.After(m.path)
			op, changed := classify(before, after)
			if !changed || !rt.ops[op] {
				continue
			}
			ev := model.Event{
				Seq:      c.Seq,
				Template: rt.template,
				Path:     m.path,
				Params:   m.params,
				Op:       op,
				Before:   before.Value(),
				After:    after.Value(),
				TS:       c.At,
			}
			if r.enqueue(ctx, ev) {
				enqueued++
			}
		}
	}
	return enqueued
}

func (r *Router) enqueue(ctx context.Context, ev model.Event) bool { //nolint:gocritic // hugeParam: queued by value
	id := ev.ID()
	if r.deduper.SeenAndRecord(ctx, id) {
		metrics.RecordTriggerDuplicate()
		r.logger.Debug(ctx, "duplicate trigger delivery", logger.String("id", id))
		return false
	}

	deadline := time.Now().Add(r.enqueueTimeout)
	for !r.queue.Enqueue(ctx, ev) {
		if ctx.Err() != nil || time.Now().After(deadline) {
			r.deduper.Unrecord(ctx, id)
			metrics.RecordTriggerDropped()
			r.logger.Warn(ctx, "trigger dropped on backpressure",
				logger.String("template", ev.Template),
				logger.String("path", ev.Path),
			)
			return false
		}
		time.Sleep(enqueueRetryDelay)
	}
	metrics.RecordTriggerDispatched(ev.Template, string(ev.Op))
	return true
}

// Dispatch runs the handler registered for e.Template.
func (r *Router) Dispatch(ctx context.Context, e model.Event) error { //nolint:gocritic // hugeParam: worker.Dispatcher
	r.mu.RLock()
	rt, ok := r.routes[e.Template]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoRoute, e.Template)
	}
	return rt.handler(ctx, e)
}

func classify(before, after store.Snapshot) (model.Op, bool) {
	switch {
	case !before.Exists() && after.Exists():
		return model.OpCreated, true
	case before.Exists() && !after.Exists():
		return model.OpDeleted, true
	case before.Exists() && !before.Equal(after):
		return model.OpUpdated, true
	}
	return "", false
}

type match struct {
	path   string
	params map[string]string
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// bind matches concrete segments against the template prefix of equal length.
func bind(tmpl, segs []string, params map[string]string) bool {
	for i, t := range tmpl {
		if isParam(t) {
			params[t[1:len(t)-1]] = segs[i]
		} else if t != segs[i] {
			return false
		}
	}
	return true
}

// expand lists the concrete template nodes a write at write may have touched.
func expand(tmpl, write []string, c *store.Change) []match {
	params := make(map[string]string)
	if len(write) >= len(tmpl) {
		if !bind(tmpl, write[:len(tmpl)], params) {
			return nil
		}
		return []match{{path: strings.Join(write[:len(tmpl)], "/"), params: params}}
	}
	if !bind(tmpl[:len(write)], write, params) {
		return nil
	}
	var out []match
	walk(tmpl, write, len(write), params, c, &out)
	return out
}

func walk(tmpl, prefix []string, level int, params map[string]string, c *store.Change, out *[]match) {
	if level == len(tmpl) {
		cp := make(map[string]string, len(params))
		for k, v := range params {
			cp[k] = v
		}
		*out = append(*out, match{path: strings.Join(prefix, "/"), params: cp})
		return
	}
	seg := tmpl[level]
	if !isParam(seg) {
		walk(tmpl, append(prefix[:len(prefix):len(prefix)], seg), level+1, params, c, out)
		return
	}
	p := strings.Join(prefix, "/")
	keys := unionKeys(c.Before(p).ChildKeys(), c.After(p).ChildKeys())
	name := seg[1 : len(seg)-1]
	for _, k := range keys {
		params[name] = k
		walk(tmpl, append(prefix[:len(prefix):len(prefix)], k), level+1, params, c, out)
	}
	delete(params, name)
}

func unionKeys(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, k := range append(a, b...) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
