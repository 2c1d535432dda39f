package engine

import (
	"context"
	"sync"

	"github.com/udisondev/wagerboard/internal/settlement"
)

// fakeSettlement records every invocation for assertions; tests that care
// about asynchronous settlement must poll callCount() since Engine invokes it
// in a goroutine, mirroring the "does not await completion" semantics of
// spec §4.7.
type fakeSettlement struct {
	mu    sync.Mutex
	calls []settlement.Update
}

func (f *fakeSettlement) UpdatePlayerBalances(ctx context.Context, u settlement.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, u)
	return nil
}

func (f *fakeSettlement) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSettlement) last() settlement.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}
