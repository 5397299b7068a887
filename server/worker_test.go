package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolDo(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Stop()

	v, err := p.Do(bg(), func(context.Context) (interface{}, error) { return 42, nil })
	if err != nil || v.(int) != 42 {
		t.Errorf("Do = %v, %v", v, err)
	}

	want := errors.New("failed")
	if _, err := p.Do(bg(), func(context.Context) (interface{}, error) { return nil, want }); err != want {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Stop()

	_, err := p.Do(bg(), func(context.Context) (interface{}, error) { panic("kaboom") })
	if err == nil || err.Error() != "worker panic: kaboom" {
		t.Errorf("error = %v", err)
	}
	// The worker survives the panic
	if v, err := p.Do(bg(), func(context.Context) (interface{}, error) { return "ok", nil }); err != nil || v != "ok" {
		t.Errorf("after panic: %v, %v", v, err)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)
	defer p.Stop()

	var running, peak int32
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			p.Do(bg(), func(context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	if peak > 2 {
		t.Errorf("peak concurrency %d, want at most 2", peak)
	}
}

func TestWorkerPoolContext(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Stop()

	ctx, cancel := context.WithCancel(bg())
	cancel()
	if _, err := p.Do(ctx, func(context.Context) (interface{}, error) { return 1, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want canceled", err)
	}

	p.Stop()
	if _, err := p.Do(bg(), func(context.Context) (interface{}, error) { return 1, nil }); err != ErrPoolStopped {
		t.Errorf("after Stop: %v, want ErrPoolStopped", err)
	}
}
