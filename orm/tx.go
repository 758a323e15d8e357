package orm

import "context"

// Committer is the interface that wraps the Commit method.
type Committer interface {
	Commit(context.Context, *Session) error
}

// CommitFunc is an adapter to allow the use of ordinary function as Committer.
type CommitFunc func(context.Context, *Session) error

// Commit calls f(ctx, s).
func (f CommitFunc) Commit(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// CommitHook defines the "commit middleware". A function that gets a Committer
// and returns a Committer. For example:
//
//	hook := func(next orm.Committer) orm.Committer {
//		return orm.CommitFunc(func(ctx context.Context, s *orm.Session) error {
//			// Do something before.
//			if err := next.Commit(ctx, s); err != nil {
//				return err
//			}
//			// Do something after.
//			return nil
//		})
//	}
type CommitHook func(Committer) Committer

// Rollbacker is the interface that wraps the Rollback method.
type Rollbacker interface {
	Rollback(context.Context, *Session) error
}

// RollbackFunc is an adapter to allow the use of ordinary function as Rollbacker.
type RollbackFunc func(context.Context, *Session) error

// Rollback calls f(ctx, s).
func (f RollbackFunc) Rollback(ctx context.Context, s *Session) error {
	return f(ctx, s)
}

// RollbackHook defines the "rollback middleware", see CommitHook.
type RollbackHook func(Rollbacker) Rollbacker

// OnCommit adds hooks that wrap the backend commit of the session. Hooks
// run after the final flush, outermost first.
func (s *Session) OnCommit(hooks ...CommitHook) {
	s.onCommit = append(s.onCommit, hooks...)
}

// OnRollback adds hooks that wrap the backend rollback of the session.
func (s *Session) OnRollback(hooks ...RollbackHook) {
	s.onRollback = append(s.onRollback, hooks...)
}

func (s *Session) committer() Committer {
	var c Committer = CommitFunc(func(context.Context, *Session) error {
		if s.tx == nil {
			return nil
		}
		return s.tx.Commit()
	})
	for i := len(s.onCommit) - 1; i >= 0; i-- {
		c = s.onCommit[i](c)
	}
	return c
}

func (s *Session) rollbacker() Rollbacker {
	var r Rollbacker = RollbackFunc(func(context.Context, *Session) error {
		if s.tx == nil {
			return nil
		}
		return s.tx.Rollback()
	})
	for i := len(s.onRollback) - 1; i >= 0; i-- {
		r = s.onRollback[i](r)
	}
	return r
}
