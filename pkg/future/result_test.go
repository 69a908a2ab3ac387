package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_SetValue(t *testing.T) {
	r := New[string](context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		r.SetValue("done")
	}()

	val, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.True(t, r.IsDone())
}

func TestResult_SetErr(t *testing.T) {
	r := New[int](context.Background())
	boom := errors.New("boom")
	r.SetErr(boom)

	_, err := r.Wait()
	assert.ErrorIs(t, err, boom)
}

func TestResult_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New[string](ctx)
	cancel()

	_, err := r.Wait()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_SetAfterDoneIsNoop(t *testing.T) {
	r := New[int](context.Background())
	r.SetValue(1)
	r.SetValue(2)

	val, err := r.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, val)
}

func TestResult_MultipleWaiters(t *testing.T) {
	r := New[int](context.Background())
	done := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() {
			val, _ := r.Wait()
			done <- val
		}()
	}
	r.SetValue(42)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 42, <-done)
	}
}
