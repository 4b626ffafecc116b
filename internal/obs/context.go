package obs

import (
	"context"
	"sort"
	"sync"
)

type annotationsKey struct{}

// Annotations are request-scoped fields that handlers attach to the access log line, such as the
// resolved zone or the snapshot version a quote was computed against.
type Annotations struct {
	mu     sync.Mutex
	fields map[string]string
}

// WithAnnotations returns a context carrying an empty annotation set.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{fields: map[string]string{}}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate records key on the request's access log. It is a no-op outside RequestLogger.
func Annotate(ctx context.Context, key, value string) {
	a, ok := ctx.Value(annotationsKey{}).(*Annotations)
	if !ok || key == "" {
		return
	}
	a.mu.Lock()
	a.fields[key] = value
	a.mu.Unlock()
}

// Each calls fn for every annotation in key order.
func (a *Annotations) Each(fn func(key, value string)) {
	a.mu.Lock()
	keys := make([]string, 0, len(a.fields))
	for k := range a.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = a.fields[k]
	}
	a.mu.Unlock()
	for i, k := range keys {
		fn(k, values[i])
	}
}
