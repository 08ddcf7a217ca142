package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// groupedAttr is an attribute bound by WithAttrs together with the groups
// that were open at that point.
type groupedAttr struct {
	groups []string
	attr   slog.Attr
}

// scope is the WithAttrs/WithGroup state shared by the journal and buffer
// handlers.
type scope struct {
	attrs  []groupedAttr
	groups []string
}

func (s scope) withAttrs(attrs []slog.Attr) scope {
	out := scope{attrs: slices.Clip(s.attrs), groups: s.groups}
	for _, a := range attrs {
		out.attrs = append(out.attrs, groupedAttr{groups: s.groups, attr: a})
	}
	return out
}

func (s scope) withGroup(name string) scope {
	if name == "" {
		return s
	}
	return scope{attrs: s.attrs, groups: append(slices.Clip(s.groups), name)}
}

// walk visits every bound and record attribute with its group path.
// Nested groups are expanded and empty attributes skipped.
func (s scope) walk(r slog.Record, fn func(path []string, a slog.Attr)) {
	for _, ga := range s.attrs {
		visit(ga.groups, ga.attr, fn)
	}
	r.Attrs(func(a slog.Attr) bool {
		visit(s.groups, a, fn)
		return true
	})
}

func visit(path []string, a slog.Attr, fn func([]string, slog.Attr)) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() != slog.KindGroup {
		fn(path, a)
		return
	}
	sub := path
	if a.Key != "" {
		sub = append(slices.Clip(path), a.Key)
	}
	for _, ga := range a.Value.Group() {
		visit(sub, ga, fn)
	}
}

// fanoutHandler sends each record to every handler that accepts its level.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	out := make(fanoutHandler, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
