package srv

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type namedService struct {
	name string
	rec  *recorder
}

func (n *namedService) Start(ctx context.Context) error { return nil }

func (n *namedService) Shutdown(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	n.rec.add(n.name)
	return nil
}

func TestCleanup_RunsAllAndJoinsErrors(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	var ran []int

	c := NewCleanup(
		func() error { ran = append(ran, 1); return first },
		nil,
		func() error { ran = append(ran, 2); return nil },
		func() error { ran = append(ran, 3); return second },
	)
	require.NoError(t, c.Start(context.Background()))

	err := c.Shutdown(context.Background())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
	assert.Equal(t, []int{1, 2, 3}, ran)

	assert.NoError(t, NewCleanup().Shutdown(context.Background()))
}

func TestShutdownServices_InOrderWithLiveContext(t *testing.T) {
	rec := &recorder{}
	services := []Service{
		&namedService{name: "server", rec: rec},
		&namedService{name: "store", rec: rec},
	}

	ctx, cancel := context.WithCancel(context.Background())
	StartServices(ctx, services)
	cancel()
	ShutdownServices(ctx, services)

	assert.Equal(t, []string{"server", "store"}, rec.get())
}
