package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexandro/vecindex-mcp/index"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSyncer counts SyncDirectory calls and returns a canned result.
type fakeSyncer struct {
	mu     sync.Mutex
	calls  int
	dirs   []string
	result *index.SyncResult
	err    error
	ran    chan struct{}
}

func (f *fakeSyncer) SyncDirectory(_ context.Context, dir string) (*index.SyncResult, error) {
	f.mu.Lock()
	f.calls++
	f.dirs = append(f.dirs, dir)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return f.result, f.err
}

func Test_performSyncVerification_ReturnsResult(t *testing.T) {
	syncer := &fakeSyncer{result: &index.SyncResult{MissingFiles: 1, StaleFiles: 2, ModifiedFiles: 3, Duration: time.Millisecond}}

	result := performSyncVerification(context.Background(), syncer, "/project", testLogger())

	require.NotNil(t, result)
	assert.Equal(t, 1, result.MissingFiles)
	assert.Equal(t, 2, result.StaleFiles)
	assert.Equal(t, 3, result.ModifiedFiles)
	assert.Equal(t, []string{"/project"}, syncer.dirs)
}

func Test_performSyncVerification_InSync(t *testing.T) {
	syncer := &fakeSyncer{result: &index.SyncResult{}}

	result := performSyncVerification(context.Background(), syncer, "/project", testLogger())

	require.NotNil(t, result)
	assert.Zero(t, result.MissingFiles+result.StaleFiles+result.ModifiedFiles)
}

func Test_performSyncVerification_Error(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("reading directory: denied")}

	assert.Nil(t, performSyncVerification(context.Background(), syncer, "/project", testLogger()))
}

func Test_runPeriodicSync_RunsOnEveryTick(t *testing.T) {
	syncer := &fakeSyncer{result: &index.SyncResult{}, ran: make(chan struct{}, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		runPeriodicSync(ctx, 10*time.Millisecond, syncer, "/project", testLogger())
		close(done)
	}()

	for range 2 {
		select {
		case <-syncer.ran:
		case <-time.After(3 * time.Second):
			t.Fatal("sync did not run")
		}
	}
	cancel()
	<-done
}

func Test_runPeriodicSync_StopsOnCancel(t *testing.T) {
	syncer := &fakeSyncer{result: &index.SyncResult{}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		runPeriodicSync(ctx, time.Hour, syncer, "/project", testLogger())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("runPeriodicSync did not stop within 3 seconds after cancellation")
	}
	assert.Zero(t, syncer.calls)
}
