package sentry

import (
	"sync"

	"github.com/your-org/roadrunner-sentry/internal/ringbuffer"
	"github.com/your-org/roadrunner-sentry/internal/tracing"
)

// Scope holds the data applied to every error and transaction event: tags,
// extra, contexts, user, fingerprint, the breadcrumb trail and the trace
// errors are linked to.
//
// All methods are safe for concurrent use.
type Scope struct {
	mu          sync.RWMutex
	tags        map[string]string
	extra       map[string]any
	contexts    map[string]map[string]any
	user        *User
	fingerprint []string
	level       Level
	breadcrumbs *ringbuffer.RingBuffer[Breadcrumb]

	traceID tracing.TraceID
	spanID  tracing.SpanID
	parent  tracing.SpanID
}

func newScope(maxBreadcrumbs int) (*Scope, error) {
	buf, err := ringbuffer.New[Breadcrumb](maxBreadcrumbs)
	if err != nil {
		return nil, err
	}
	return &Scope{
		tags:        make(map[string]string),
		extra:       make(map[string]any),
		contexts:    make(map[string]map[string]any),
		breadcrumbs: buf,
		traceID:     tracing.NewTraceID(),
		spanID:      tracing.NewSpanID(),
	}, nil
}

func (s *Scope) SetTag(key, value string) {
	s.mu.Lock()
	s.tags[key] = value
	s.mu.Unlock()
}

func (s *Scope) RemoveTag(key string) {
	s.mu.Lock()
	delete(s.tags, key)
	s.mu.Unlock()
}

func (s *Scope) SetExtra(key string, value any) {
	s.mu.Lock()
	s.extra[key] = value
	s.mu.Unlock()
}

// SetContext sets a named context; a nil value removes it.
func (s *Scope) SetContext(name string, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.contexts, name)
		return
	}
	s.contexts[name] = value
}

func (s *Scope) SetUser(user *User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

func (s *Scope) SetFingerprint(fingerprint []string) {
	s.mu.Lock()
	s.fingerprint = fingerprint
	s.mu.Unlock()
}

// SetLevel overrides the level of every error event.
func (s *Scope) SetLevel(level Level) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// ClearBreadcrumbs empties the breadcrumb trail.
func (s *Scope) ClearBreadcrumbs() {
	s.breadcrumbs.Clear()
}

// Breadcrumbs returns the trail, oldest first.
func (s *Scope) Breadcrumbs() []Breadcrumb {
	return s.breadcrumbs.ToSlice()
}

// Clear resets everything but the trace.
func (s *Scope) Clear() {
	s.mu.Lock()
	s.tags = make(map[string]string)
	s.extra = make(map[string]any)
	s.contexts = make(map[string]map[string]any)
	s.user = nil
	s.fingerprint = nil
	s.level = ""
	s.mu.Unlock()
	s.breadcrumbs.Clear()
}

// SetPropagationContext replaces the process-wide default trace. Requests
// served concurrently use Client.WithTrace instead.
func (s *Scope) SetPropagationContext(pc tracing.PropagationContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pc.TraceID.IsZero() {
		return
	}
	s.traceID = pc.TraceID
	s.parent = pc.ParentSpanID
	s.spanID = tracing.NewSpanID()
}

// TraceID is the trace errors and logs are currently linked to.
func (s *Scope) TraceID() tracing.TraceID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traceID
}

func (s *Scope) addBreadcrumb(b Breadcrumb) {
	s.breadcrumbs.Push(b)
}

// apply copies the scope onto ev. Values already on the event win.
func (s *Scope) apply(ev *Event, withBreadcrumbs bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.tags) > 0 {
		tags := make(map[string]string, len(s.tags)+len(ev.Tags))
		for k, v := range s.tags {
			tags[k] = v
		}
		for k, v := range ev.Tags {
			tags[k] = v
		}
		ev.Tags = tags
	}

	if len(s.extra) > 0 {
		extra := make(map[string]any, len(s.extra)+len(ev.Extra))
		for k, v := range s.extra {
			extra[k] = v
		}
		for k, v := range ev.Extra {
			extra[k] = v
		}
		ev.Extra = extra
	}

	contexts := make(map[string]map[string]any, len(s.contexts)+len(ev.Contexts)+1)
	for k, v := range s.contexts {
		contexts[k] = v
	}
	for k, v := range ev.Contexts {
		contexts[k] = v
	}
	if _, ok := contexts["trace"]; !ok {
		trace := map[string]any{
			"trace_id": s.traceID.String(),
			"span_id":  s.spanID.String(),
		}
		if !s.parent.IsZero() {
			trace["parent_span_id"] = s.parent.String()
		}
		contexts["trace"] = trace
	}
	ev.Contexts = contexts

	if ev.User == nil && s.user != nil {
		u := *s.user
		ev.User = &u
	}
	if len(ev.Fingerprint) == 0 && len(s.fingerprint) > 0 {
		ev.Fingerprint = append([]string(nil), s.fingerprint...)
	}
	if s.level != "" && ev.Kind == KindError {
		ev.Level = s.level
	}
	if withBreadcrumbs && len(ev.Breadcrumbs) == 0 {
		ev.Breadcrumbs = s.breadcrumbs.ToSlice()
	}
}
