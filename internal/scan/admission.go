package scan

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// ErrBusy signals the in-flight identification limit was hit. Callers should
// surface it as a "too busy" response rather than queue the request.
var ErrBusy = eris.New("scan: too many concurrent identifications")

// Gate bounds concurrent identifications with a process-local semaphore. It
// is deliberately not synchronized across instances; each process admits its
// own share.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a gate admitting up to limit concurrent holders.
// Default: 4.
func NewGate(limit int) *Gate {
	if limit <= 0 {
		limit = 4
	}
	return &Gate{sem: semaphore.NewWeighted(int64(limit))}
}

// Acquire reserves a slot or fails immediately with ErrBusy. The returned
// release must be called on every exit path.
func (g *Gate) Acquire() (release func(), err error) {
	if !g.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	return func() { g.sem.Release(1) }, nil
}

// Identifier runs admission-controlled candidate ranking.
type Identifier struct {
	gate *Gate
}

// NewIdentifier returns an identifier admitting up to limit concurrent
// requests.
func NewIdentifier(limit int) *Identifier {
	return &Identifier{gate: NewGate(limit)}
}

// Identify ranks the candidates under the admission gate.
func (id *Identifier) Identify(ctx context.Context, candidates []Candidate) (Result, error) {
	release, err := id.gate.Acquire()
	if err != nil {
		return Result{}, err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Rank(candidates)
}
