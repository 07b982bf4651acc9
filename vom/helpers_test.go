package vom_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/vom"
)

func counterInit(args ...any) (vom.State, error) {
	start := 0
	if len(args) > 0 {
		n, ok := args[0].(int)
		if !ok {
			return nil, fmt.Errorf("counter start must be int, got %T", args[0])
		}
		start = n
	}
	return vom.State{"count": start, "label": ""}, nil
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		panic(fmt.Sprintf("not an integer: %T", v))
	}
}

var counterBehavior = vom.Behavior{
	"incr": func(c *vom.Context, _ ...any) (any, error) {
		n, err := c.Get("count")
		if err != nil {
			return nil, err
		}
		next := asInt(n) + 1
		return next, c.Set("count", next)
	},
	"get": func(c *vom.Context, _ ...any) (any, error) {
		return c.Get("count")
	},
	"label": func(c *vom.Context, _ ...any) (any, error) {
		return c.Get("label")
	},
	"setLabel": func(c *vom.Context, args ...any) (any, error) {
		return nil, c.Set("label", args[0])
	},
	// poke invokes another representative while this one is pinned.
	"poke": func(c *vom.Context, args ...any) (any, error) {
		other := args[0].(*vom.Representative)
		observe := args[1].(func())
		if _, err := other.Invoke(c.Context(), "incr"); err != nil {
			return nil, err
		}
		observe()
		return nil, nil
	},
}

func defineCounter(ctx context.Context, m *vom.Manager, opts ...vom.KindOption) (vom.Maker, error) {
	return m.VivifyKind(ctx, "counter", counterInit, counterBehavior, opts...)
}

func invokeInt(t *testing.T, ctx context.Context, r *vom.Representative, method string) int64 {
	t.Helper()
	v, err := r.Invoke(ctx, method)
	require.NoError(t, err)
	return asInt(v)
}
