package boundq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerFactories() map[string]ContainerFactory[int] {
	return map[string]ContainerFactory[int]{
		"chan":     NewChanContainer[int],
		"priority": PriorityFactory(func(a, b int) bool { return false }), // no ranking: plain FIFO.
	}
}

func TestContainers(t *testing.T) {
	for name, factory := range containerFactories() {
		t.Run(name, func(t *testing.T) {
			t.Run("fifo and capacity", func(t *testing.T) {
				c := factory(3)
				require.Equal(t, 3, c.Cap())
				for i := range 3 {
					require.NoError(t, c.TryPut(i))
				}
				ErrorIs(ErrContainerFull)(t, c.TryPut(99))
				require.Equal(t, 3, c.Len())

				ctx := context.Background()
				for i := range 3 {
					v, err := c.Take(ctx)
					require.NoError(t, err)
					assert.Equal(t, i, v)
				}
				assert.Zero(t, c.Len())
			})

			t.Run("put blocks until space", func(t *testing.T) {
				ctx := context.Background()
				c := factory(1)
				require.NoError(t, c.TryPut(1))

				putDone := make(chan error, 1)
				go func() { putDone <- c.Put(ctx, 2) }()

				select {
				case <-putDone:
					t.Fatal("put should block on a full container")
				case <-time.After(50 * time.Millisecond):
				}

				v, err := c.Take(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, v)
				require.NoError(t, <-putDone)

				v, err = c.Take(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, v)
			})

			t.Run("put fails on ctx cancellation", func(t *testing.T) {
				c := factory(1)
				require.NoError(t, c.TryPut(1))
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
				defer cancel()
				ErrorIs(context.DeadlineExceeded)(t, c.Put(ctx, 2))
				assert.Equal(t, 1, c.Len())
			})

			t.Run("take fails on ctx cancellation", func(t *testing.T) {
				c := factory(1)
				ctx, cancel := context.WithCancel(context.Background())
				go func() {
					time.Sleep(30 * time.Millisecond)
					cancel()
				}()
				_, err := c.Take(ctx)
				ErrorIs(context.Canceled)(t, err)
			})

			t.Run("close releases blocked producers", func(t *testing.T) {
				ctx := context.Background()
				c := factory(1)
				require.NoError(t, c.TryPut(1))

				const producers = 5
				wg := sync.WaitGroup{}
				wg.Add(producers)
				errs := make(chan error, producers)
				for i := range producers {
					go func() {
						defer wg.Done()
						errs <- c.Put(ctx, i+10)
					}()
				}

				time.Sleep(30 * time.Millisecond)
				c.Close()
				wg.Wait()
				close(errs)
				for err := range errs {
					ErrorIs(ErrContainerClosed)(t, err)
				}
				ErrorIs(ErrContainerClosed)(t, c.TryPut(2))
			})

			t.Run("take drains then reports closed", func(t *testing.T) {
				ctx := context.Background()
				c := factory(4)
				require.NoError(t, c.TryPut(1))
				require.NoError(t, c.TryPut(2))
				c.Close()
				c.Close() // idempotent.

				v, err := c.Take(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, v)
				v, err = c.Take(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, v)
				_, err = c.Take(ctx)
				ErrorIs(ErrContainerClosed)(t, err)
			})

			t.Run("close wakes blocked consumer", func(t *testing.T) {
				c := factory(1)
				takeErr := make(chan error, 1)
				go func() {
					_, err := c.Take(context.Background())
					takeErr <- err
				}()
				time.Sleep(30 * time.Millisecond)
				c.Close()
				ErrorIs(ErrContainerClosed)(t, <-takeErr)
			})
		})
	}
}

func TestPriorityContainerOrder(t *testing.T) {
	type task struct {
		name     string
		priority int
	}
	c := NewPriorityContainer(10, func(a, b task) bool { return a.priority > b.priority })

	for _, tk := range []task{
		{"low-1", 1},
		{"high-1", 5},
		{"mid", 3},
		{"high-2", 5},
		{"low-2", 1},
	} {
		require.NoError(t, c.TryPut(tk))
	}

	got := make([]string, 0, 5)
	for range 5 {
		tk, err := c.Take(context.Background())
		require.NoError(t, err)
		got = append(got, tk.name)
	}
	assert.Equal(t, []string{"high-1", "high-2", "mid", "low-1", "low-2"}, got)
}
