package lockmgr_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentfs/coord/internal/lockmgr"
)

func TestSharedLocksAreConcurrent(t *testing.T) {
	m := lockmgr.New()
	ctx := context.Background()

	t1, err := m.AcquireShared(ctx, "/a", time.Time{})
	require.NoError(t, err)
	t2, err := m.AcquireShared(ctx, "/a", time.Time{})
	require.NoError(t, err)

	stats := m.Stats("/a")
	require.Equal(t, "shared", stats.Mode)
	require.Equal(t, 2, stats.SharedHolders)

	m.Release(t1)
	m.Release(t2)
}

func TestExclusiveExcludesShared(t *testing.T) {
	m := lockmgr.New()
	ctx := context.Background()

	wTok, err := m.AcquireExclusive(ctx, "/a", time.Time{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		tok, err := m.AcquireShared(ctx, "/a", time.Now().Add(200*time.Millisecond))
		if err == nil {
			m.Release(tok)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("shared acquire must not succeed while exclusive holder is active")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(wTok)
	<-done
}

func TestFIFOExclusiveNotStarvedByReads(t *testing.T) {
	m := lockmgr.New()
	ctx := context.Background()

	holder, err := m.AcquireExclusive(ctx, "/a", time.Time{})
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := m.AcquireExclusive(ctx, "/a", time.Now().Add(2*time.Second))
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "writer")
		mu.Unlock()
		m.Release(tok)
	}()

	time.Sleep(20 * time.Millisecond) // ensure writer queues first

	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := m.AcquireShared(ctx, "/a", time.Now().Add(2*time.Second))
		require.NoError(t, err)
		mu.Lock()
		order = append(order, "reader")
		mu.Unlock()
		m.Release(tok)
	}()

	time.Sleep(20 * time.Millisecond)
	m.Release(holder)
	wg.Wait()

	require.Equal(t, []string{"writer", "reader"}, order, "a queued writer must not be passed by a later reader")
}

func TestSharedCoalescingOnExclusiveRelease(t *testing.T) {
	m := lockmgr.New()
	ctx := context.Background()

	holder, err := m.AcquireExclusive(ctx, "/a", time.Time{})
	require.NoError(t, err)

	results := make(chan string, 3)
	for _, name := range []string{"r1", "r2"} {
		name := name
		go func() {
			tok, err := m.AcquireShared(ctx, "/a", time.Now().Add(2*time.Second))
			require.NoError(t, err)
			results <- name
			m.Release(tok)
		}()
	}
	time.Sleep(20 * time.Millisecond)

	go func() {
		tok, err := m.AcquireExclusive(ctx, "/a", time.Now().Add(2*time.Second))
		require.NoError(t, err)
		results <- "w"
		m.Release(tok)
	}()
	time.Sleep(20 * time.Millisecond)

	m.Release(holder)

	got := map[string]bool{}
	for i := 0; i < 3; i++ {
		got[<-results] = true
	}
	require.True(t, got["r1"] && got["r2"] && got["w"])
}

func TestLockTimeout(t *testing.T) {
	m := lockmgr.New()
	ctx := context.Background()

	holder, err := m.AcquireExclusive(ctx, "/a", time.Time{})
	require.NoError(t, err)
	defer m.Release(holder)

	start := time.Now()
	_, err = m.AcquireExclusive(ctx, "/a", time.Now().Add(100*time.Millisecond))
	elapsed := time.Since(start)

	require.ErrorIs(t, err, lockmgr.ErrLockTimeout)
	require.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)

	require.Equal(t, 0, m.Stats("/a").QueueDepth)
}

func TestCancellationRemovesWaiter(t *testing.T) {
	m := lockmgr.New()
	holder, err := m.AcquireExclusive(context.Background(), "/a", time.Time{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.AcquireExclusive(ctx, "/a", time.Time{})
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not unblock the waiter")
	}

	require.Equal(t, 0, m.Stats("/a").QueueDepth)
	m.Release(holder)
}

func TestAcquireTwoExclusiveSamePathIsInvalid(t *testing.T) {
	m := lockmgr.New()
	_, _, err := m.AcquireTwoExclusive(context.Background(), "/a", "/a", time.Time{})
	require.ErrorIs(t, err, lockmgr.ErrInvalidPath)
}

func TestRenameTwoLockOrderingNoDeadlock(t *testing.T) {
	m := lockmgr.New()

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	run := func(a, b string) {
		defer wg.Done()
		ta, tb, err := m.AcquireTwoExclusive(context.Background(), a, b, time.Now().Add(2*time.Second))
		if err != nil {
			errs <- err
			return
		}
		time.Sleep(10 * time.Millisecond)
		m.Release(ta)
		m.Release(tb)
		errs <- nil
	}

	wg.Add(2)
	go run("/a", "/b")
	go run("/b", "/a")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("deadlock detected in two-lock acquisition")
	}

	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
