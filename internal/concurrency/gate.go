// Package concurrency implements the Concurrency Gate (C3): a global
// counting semaphore and a family of per-server-key counting semaphores,
// acquired in a fixed order (global, then per-server) to preclude
// deadlock, with guaranteed release tied to the Conversion Job's teardown
// path. Grounded on this codebase's use of
// `golang.org/x/sync/semaphore.NewWeighted` for exactly this kind of
// bounded fan-out (gitserver's GlobalBatchLogSemaphore), generalized here
// to a two-level gate with a non-blocking TryAcquire surface instead of a
// blocking Acquire.
package concurrency

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate owns the global slot pool and one slot pool per server key.
type Gate struct {
	mu             sync.Mutex
	global         *semaphore.Weighted
	globalCap      int64
	globalHeld     int64
	perServerCap   int64
	serverOverride map[string]int64
	servers        map[string]*semaphore.Weighted
	serverHeld     map[string]int64
}

// New creates a Gate with the given global and default per-server caps.
// Per-server caps may be overridden individually via WithServerCap.
func New(globalCap, perServerCap int) *Gate {
	return &Gate{
		global:         semaphore.NewWeighted(int64(globalCap)),
		globalCap:      int64(globalCap),
		perServerCap:   int64(perServerCap),
		serverOverride: make(map[string]int64),
		servers:        make(map[string]*semaphore.Weighted),
		serverHeld:     make(map[string]int64),
	}
}

// WithServerCap overrides the per-server cap for a specific server key.
// Must be called before the first Acquire for that key.
func (g *Gate) WithServerCap(serverKey string, cap int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.serverOverride[serverKey] = int64(cap)
}

func (g *Gate) serverSem(serverKey string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.servers[serverKey]; ok {
		return s
	}
	cap, ok := g.serverOverride[serverKey]
	if !ok {
		cap = g.perServerCap
	}
	s := semaphore.NewWeighted(cap)
	g.servers[serverKey] = s
	return s
}

// Tokens represents the slots held by one Conversion Job. It must be
// released exactly once, via Release, regardless of how the job ends
// (success, failure, or a recovered panic) — callers should defer
// Release immediately after a successful Acquire.
type Tokens struct {
	gate      *Gate
	serverKey string
	acquired  bool
}

// TryAcquire attempts to acquire one global slot and one per-server slot
// for serverKey, non-blocking: if either is unavailable the attempt fails
// immediately and the caller moves on to the next repo (§4.3). Global is
// always acquired before per-server, and released in reverse, which is
// what makes this gate deadlock-free against itself.
func (g *Gate) TryAcquire(serverKey string) (*Tokens, bool) {
	if !g.global.TryAcquire(1) {
		return nil, false
	}

	sem := g.serverSem(serverKey)
	if !sem.TryAcquire(1) {
		g.global.Release(1)
		return nil, false
	}

	g.mu.Lock()
	g.globalHeld++
	g.serverHeld[serverKey]++
	g.mu.Unlock()

	return &Tokens{gate: g, serverKey: serverKey, acquired: true}, true
}

// Release returns both held slots. Idempotent: calling it more than once
// (or on a Tokens that failed to acquire) is a safe no-op, so defer-heavy
// cleanup code can call it unconditionally.
func (t *Tokens) Release() {
	if t == nil || !t.acquired {
		return
	}
	t.acquired = false

	sem := t.gate.serverSem(t.serverKey)
	sem.Release(1)
	t.gate.global.Release(1)

	t.gate.mu.Lock()
	t.gate.globalHeld--
	t.gate.serverHeld[t.serverKey]--
	t.gate.mu.Unlock()
}

// Holders reports the current global and per-server-key holder counts,
// for the Status Monitor / Concurrency Monitor.
func (g *Gate) Holders() (global int, perServer map[string]int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	perServer = make(map[string]int, len(g.serverHeld))
	for k, v := range g.serverHeld {
		perServer[k] = int(v)
	}
	return int(g.globalHeld), perServer
}

// GlobalCap and PerServerCap report the configured caps, for observability.
func (g *Gate) GlobalCap() int { return int(g.globalCap) }
func (g *Gate) PerServerCap(serverKey string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cap, ok := g.serverOverride[serverKey]; ok {
		return int(cap)
	}
	return int(g.perServerCap)
}
