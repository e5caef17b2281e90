package journal

import (
	"context"
	"fmt"
	"sort"

	"jt-go/internal/jt"
)

// Router dispatches each volume to the source configured for it.
type Router struct {
	sources map[string]jt.JournalSource
}

func NewRouter() *Router {
	return &Router{sources: make(map[string]jt.JournalSource)}
}

// Add routes volume to src, replacing any previous route.
func (r *Router) Add(volume string, src jt.JournalSource) {
	r.sources[volume] = src
}

// Volumes lists routed volumes in sorted order.
func (r *Router) Volumes() []string {
	out := make([]string, 0, len(r.sources))
	for v := range r.sources {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Source returns the source for volume.
func (r *Router) Source(volume string) (jt.JournalSource, bool) {
	src, ok := r.sources[volume]
	return src, ok
}

func (r *Router) route(volume string) (jt.JournalSource, error) {
	src, ok := r.sources[volume]
	if !ok {
		return nil, &jt.AccessError{Volume: volume, Err: fmt.Errorf("no journal source configured")}
	}
	return src, nil
}

func (r *Router) CurrentState(ctx context.Context, volume string) (jt.JournalState, error) {
	src, err := r.route(volume)
	if err != nil {
		return jt.JournalState{}, err
	}
	return src.CurrentState(ctx, volume)
}

func (r *Router) ReadFrom(ctx context.Context, volume string, after int64) (jt.RawIterator, error) {
	src, err := r.route(volume)
	if err != nil {
		return nil, err
	}
	return src.ReadFrom(ctx, volume, after)
}

var _ jt.JournalSource = (*Router)(nil)
