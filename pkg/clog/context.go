package clog

import (
	"context"
	"sync"
)

type ctxSlog struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxSlogKey struct{}

func ContextWithSlog(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxSlogKey{}, &ctxSlog{
		attributes: make(map[string]any),
	})
}

func AddAttribute(ctx context.Context, key string, value any) {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attributes[key] = value
}

func GetAttribute[T any](ctx context.Context, key string) T {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return *new(T)
	}
	l.mu.RLock()
	iVal, ok := l.attributes[key]
	l.mu.RUnlock()
	if !ok {
		return *new(T)
	}
	val, ok := iVal.(T)
	if !ok {
		return *new(T)
	}
	return val
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetAttributes(ctx context.Context) map[string]any {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	copied := make(map[string]any, len(l.attributes))
	for k, v := range l.attributes {
		copied[k] = v
	}
	return copied
}
