package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowkit/internal/ir"
)

func noop(context.Context, Call) (any, error) { return nil, nil }

func TestBuild_OrderAndQueries(t *testing.T) {
	reg, err := NewBuilder("demo").
		Start("begin", noop).
		Listen("a", Or("begin"), noop, AcceptsResult()).
		Router("route", Or("a"), noop, Routes("left", "right")).
		Listen("l", Or("left"), noop).
		Listen("join", And("a", "l"), noop).
		Build()
	require.NoError(t, err)

	assert.Equal(t, "demo", reg.Name())
	assert.Equal(t, 5, reg.Len())
	assert.Equal(t, []string{"begin"}, reg.StartMethods())

	names := make([]string, 0)
	for _, s := range reg.Specs() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"begin", "a", "route", "l", "join"}, names)

	assert.True(t, reg.IsRouter("route"))
	assert.False(t, reg.IsRouter("a"))
	assert.False(t, reg.IsRouter("missing"))

	a, ok := reg.Spec("a")
	require.True(t, ok)
	assert.True(t, a.AcceptsResult)
	assert.Equal(t, ir.KindListener, a.Kind)

	route, _ := reg.Spec("route")
	assert.Equal(t, []string{"left", "right"}, route.RouteLabels)
	assert.True(t, route.IsRouter())

	_, ok = reg.Body("join")
	assert.True(t, ok)

	triggered := reg.Triggered()
	assert.Len(t, triggered, 4)
}

func TestBuild_SpecsAreCopies(t *testing.T) {
	reg := NewBuilder("demo").
		Start("begin", noop).
		Listen("a", Or("begin"), noop).
		MustBuild()

	specs := reg.Specs()
	specs[1].Condition.Methods[0] = "mutated"

	again, _ := reg.Spec("a")
	assert.Equal(t, []string{"begin"}, again.Condition.Methods)
}

func TestTriggered_NewSlicePerCall(t *testing.T) {
	reg := NewBuilder("demo").
		Start("begin", noop).
		Listen("a", Or("begin"), noop).
		Listen("b", Or("a"), noop).
		MustBuild()

	first := reg.Triggered()
	require.Len(t, first, 2)
	first[0] = ir.MethodSpec{Name: "replaced"}

	second := reg.Triggered()
	assert.Equal(t, "a", second[0].Name)
	assert.Equal(t, "b", second[1].Name)
}

func TestBuild_StartWhen(t *testing.T) {
	reg := NewBuilder("loop").
		StartWhen("tick", Or("again"), noop).
		Router("check", Or("tick"), noop, Routes("again", "stop")).
		MustBuild()

	tick, _ := reg.Spec("tick")
	assert.True(t, tick.IsStart())
	assert.True(t, tick.IsTriggered())
	assert.Equal(t, []string{"tick"}, reg.StartMethods())
}

func TestBuild_NoStartMethodsIsAllowed(t *testing.T) {
	// Missing start methods is a kickoff-time error, not a build error.
	reg, err := NewBuilder("idle").
		Listen("a", Or("b"), noop).
		Listen("b", Or("a"), noop).
		Build()
	require.NoError(t, err)
	assert.Empty(t, reg.StartMethods())
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name    string
		build   func() *Builder
		wantMsg string
	}{
		{
			name: "duplicate method",
			build: func() *Builder {
				return NewBuilder("f").Start("a", noop).Start("a", noop)
			},
			wantMsg: "registered more than once",
		},
		{
			name: "unknown member",
			build: func() *Builder {
				return NewBuilder("f").Start("a", noop).Listen("b", Or("ghost"), noop)
			},
			wantMsg: `unknown method or route label "ghost"`,
		},
		{
			name: "empty members",
			build: func() *Builder {
				return NewBuilder("f").Start("a", noop).Listen("b", And(), noop)
			},
			wantMsg: "AND condition has no members",
		},
		{
			name: "bad condition type",
			build: func() *Builder {
				return NewBuilder("f").Start("a", noop).
					Listen("b", ir.Condition{Type: "XOR", Methods: []string{"a"}}, noop)
			},
			wantMsg: `invalid condition type "XOR"`,
		},
		{
			name: "nil body",
			build: func() *Builder {
				return NewBuilder("f").Start("a", nil)
			},
			wantMsg: "method body is nil",
		},
		{
			name: "empty method name",
			build: func() *Builder {
				return NewBuilder("f").Start("", noop)
			},
			wantMsg: "method name is required",
		},
		{
			name: "empty flow name",
			build: func() *Builder {
				return NewBuilder("").Start("a", noop)
			},
			wantMsg: "flow name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := tt.build().Build()
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, ir.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestBuild_ReportsAllProblems(t *testing.T) {
	_, err := NewBuilder("f").
		Start("a", noop).
		Start("a", noop).
		Listen("b", Or("x"), noop).
		Listen("c", And("y"), noop).
		Build()
	require.Error(t, err)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	assert.Len(t, joined.Unwrap(), 3)
}

func TestMustBuild_Panics(t *testing.T) {
	assert.Panics(t, func() {
		NewBuilder("f").Listen("a", Or("nope"), noop).MustBuild()
	})
}

func TestDescribe(t *testing.T) {
	reg := NewBuilder("demo").
		Start("begin", noop).
		Router("route", Or("begin"), noop, Routes("left")).
		Listen("l", And("left", "begin"), noop, AcceptsResult()).
		MustBuild()

	assert.Equal(t, []SpecInfo{
		{Name: "begin", Kind: "start"},
		{Name: "route", Kind: "listener|router", Condition: "OR(begin)", Routes: []string{"left"}},
		{Name: "l", Kind: "listener", Condition: "AND(left, begin)", AcceptsResult: true},
	}, reg.Describe())
}
