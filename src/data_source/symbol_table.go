package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flow-observer/src/logger"
)

// SymbolWorker owns all state of one symbol. Run returns when ctx is done.
type SymbolWorker interface {
	Run(ctx context.Context)
}

type slot[W SymbolWorker] struct {
	worker W
	cancel context.CancelFunc
	done   chan struct{}
}

// -----------------------------------------------------------------------------

// SymbolTable is an engine's symbol -> worker arena. A worker exists exactly
// while its symbol is tracked; removing the symbol cancels the worker and
// waits for it to exit.
type SymbolTable[W SymbolWorker] struct {
	name    string
	factory func(symbol string) W
	Logger  *logger.Logger

	mu      sync.RWMutex
	workers map[string]*slot[W]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewSymbolTable[W SymbolWorker](name string, factory func(symbol string) W, log *logger.Logger) *SymbolTable[W] {
	return &SymbolTable[W]{
		name:    name,
		factory: factory,
		Logger:  log,
		workers: make(map[string]*slot[W]),
	}
}

// -----------------------------------------------------------------------------

// Start launches workers for symbols added so far and for every later Add.
func (t *SymbolTable[W]) Start(parentCtx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx != nil {
		return fmt.Errorf("%s symbol table is already running", t.name)
	}

	t.ctx, t.cancel = context.WithCancel(parentCtx)
	for symbol, s := range t.workers {
		t.launch(symbol, s)
	}
	return nil
}

// -----------------------------------------------------------------------------

// Add tracks symbol. It is a no-op when the symbol is already tracked.
func (t *SymbolTable[W]) Add(symbol string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.workers[symbol]; exists {
		return false
	}

	s := &slot[W]{worker: t.factory(symbol)}
	t.workers[symbol] = s
	if t.ctx != nil {
		t.launch(symbol, s)
	}
	t.Logger.Info("Added symbol: %s", symbol)
	return true
}

// -----------------------------------------------------------------------------

// Remove untracks symbol and blocks until its worker has exited.
func (t *SymbolTable[W]) Remove(symbol string) bool {
	t.mu.Lock()
	s, exists := t.workers[symbol]
	if exists {
		delete(t.workers, symbol)
	}
	t.mu.Unlock()

	if !exists {
		return false
	}

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	t.Logger.Info("Removed symbol: %s", symbol)
	return true
}

// -----------------------------------------------------------------------------

// Sync makes the tracked set equal to symbols and reports the difference.
func (t *SymbolTable[W]) Sync(symbols []string) (added, removed []string) {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	for _, s := range t.Symbols() {
		if !want[s] && t.Remove(s) {
			removed = append(removed, s)
		}
	}
	for _, s := range symbols {
		if t.Add(s) {
			added = append(added, s)
		}
	}
	return added, removed
}

// -----------------------------------------------------------------------------

func (t *SymbolTable[W]) Get(symbol string) (W, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.workers[symbol]
	if !ok {
		var zero W
		return zero, false
	}
	return s.worker, true
}

// -----------------------------------------------------------------------------

func (t *SymbolTable[W]) Has(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.workers[symbol]
	return ok
}

// -----------------------------------------------------------------------------

// Symbols returns the tracked symbols in sorted order.
func (t *SymbolTable[W]) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := make([]string, 0, len(t.workers))
	for s := range t.workers {
		list = append(list, s)
	}
	sort.Strings(list)
	return list
}

// -----------------------------------------------------------------------------

func (t *SymbolTable[W]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.workers)
}

// -----------------------------------------------------------------------------

// Each calls fn for every tracked worker.
func (t *SymbolTable[W]) Each(fn func(symbol string, worker W)) {
	t.mu.RLock()
	snapshot := make(map[string]W, len(t.workers))
	for sym, s := range t.workers {
		snapshot[sym] = s.worker
	}
	t.mu.RUnlock()

	for sym, w := range snapshot {
		fn(sym, w)
	}
}

// -----------------------------------------------------------------------------

// Running reports whether Start was called and Stop was not.
func (t *SymbolTable[W]) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ctx != nil
}

// -----------------------------------------------------------------------------

// Stop cancels every worker and waits for all of them to exit. Tracked
// symbols are kept so a later Start relaunches them.
func (t *SymbolTable[W]) Stop() {
	t.mu.Lock()
	if t.ctx == nil {
		t.mu.Unlock()
		return
	}
	t.Logger.Info("Stopping %s symbol table...", t.name)
	t.cancel()
	t.ctx, t.cancel = nil, nil
	for _, s := range t.workers {
		s.cancel, s.done = nil, nil
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.Logger.Info("%s symbol table stopped.", t.name)
}

// -----------------------------------------------------------------------------

// launch must be called with t.mu held.
func (t *SymbolTable[W]) launch(symbol string, s *slot[W]) {
	ctx, cancel := context.WithCancel(t.ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	t.wg.Add(1)
	go func(done chan struct{}) {
		defer t.wg.Done()
		defer close(done)
		s.worker.Run(ctx)
	}(s.done)
}
