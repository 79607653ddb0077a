package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/drand/ordering/common/log"
)

// Spawner runs the tasks of a session. Every task is essential: when one
// fails, the context of all the others is cancelled. A panicking task is
// reported as an error.
type Spawner struct {
	group *errgroup.Group
	ctx   context.Context
	log   log.Logger
}

// NewSpawner returns a spawner whose tasks stop when ctx is done.
func NewSpawner(ctx context.Context, l log.Logger) *Spawner {
	g, gctx := errgroup.WithContext(ctx)
	return &Spawner{group: g, ctx: gctx, log: l}
}

// Spawn starts task in its own goroutine.
func (s *Spawner) Spawn(name string, task func(ctx context.Context) error) {
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorw("task panicked", "task", name, "panic", r)
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
		}()
		s.log.Debugw("task started", "task", name)
		err = task(s.ctx)
		if err != nil {
			s.log.Errorw("task failed", "task", name, "err", err)
			return fmt.Errorf("task %s: %w", name, err)
		}
		s.log.Debugw("task stopped", "task", name)
		return nil
	})
}

// Wait blocks until every task returned and reports the first error.
func (s *Spawner) Wait() error {
	return s.group.Wait()
}
