package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/strapgo/internal/ctxlog"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// record returns a step fn that appends its name to order.
func record(order *[]string, name string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		*order = append(*order, name)
		return nil
	}
}

func TestRunAll_RegistrationOrder(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	p.Register("a", record(&order, "a"))
	p.Register("b", record(&order, "b"))
	p.Register("c", record(&order, "c"))

	require.NoError(t, p.RunAll(testContext()))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, []string{"a", "b", "c"}, p.Completed())
	assert.Empty(t, p.Pending())
}

func TestBefore_MovesStepAheadOfAnchor(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	p.Register("a", record(&order, "a"))
	p.Register("b", record(&order, "b"))
	p.Register("c", record(&order, "c"))

	p.Before("c", "a")

	require.NoError(t, p.RunAll(testContext()))
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestAfter_MovesStepBehindAnchor(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	p.Register("a", record(&order, "a"))
	p.Register("b", record(&order, "b"))
	p.Register("c", record(&order, "c"))

	p.After("a", "b")

	require.NoError(t, p.RunAll(testContext()))
	assert.Equal(t, []string{"b", "a", "c"}, order)
}

func TestMove_UnknownStepIsNoOp(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	p.Register("a", record(&order, "a"))
	p.Register("b", record(&order, "b"))

	p.Before("missing", "a")
	p.After("a", "missing")

	require.NoError(t, p.RunAll(testContext()))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	t.Parallel()

	p := New()
	p.Register("a", func(ctx context.Context) error { return nil })
	assert.Panics(t, func() {
		p.Register("a", func(ctx context.Context) error { return nil })
	})
}

func TestRunAll_StepErrorAborts(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	stepErr := errors.New("boom")
	p.Register("a", record(&order, "a"))
	p.Register("b", func(ctx context.Context) error { return stepErr })
	p.Register("c", record(&order, "c"))

	err := p.RunAll(testContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, stepErr)
	assert.Contains(t, err.Error(), `boot step "b" failed`)

	// c never ran and is still pending.
	assert.Equal(t, []string{"a"}, order)
	assert.Equal(t, []string{"c"}, p.Pending())
	assert.True(t, p.Finished("a"))
	assert.False(t, p.Finished("b"))
}

func TestRunAll_StepRegisteredWhileRunning(t *testing.T) {
	t.Parallel()

	p := New()
	var order []string
	p.Register("a", func(ctx context.Context) error {
		order = append(order, "a")
		p.Register("late", record(&order, "late"))
		p.Before("late", "b")
		return nil
	})
	p.Register("b", record(&order, "b"))

	require.NoError(t, p.RunAll(testContext()))
	assert.Equal(t, []string{"a", "late", "b"}, order)
}
