package loop

import (
	"context"
	"fmt"
	"path/filepath"

	"agentloop/pkg/archive"
	"agentloop/pkg/backlog"
	"agentloop/pkg/config"
	"agentloop/pkg/eventlog"
	"agentloop/pkg/git"
	"agentloop/pkg/hooks"
	"agentloop/pkg/logx"
	"agentloop/pkg/metrics"
	"agentloop/pkg/policy"
	"agentloop/pkg/session"
)

// Runner executes one bounded iteration attempt. Satisfied by
// iteration.Controller.
type Runner interface {
	Run(ctx context.Context, n int, continuationToken string) (*session.IterationRecord, string, error)
}

// Loop drives repeated iteration attempts until a terminal policy decision.
// It owns the session record for the run's duration; nothing else writes it.
type Loop struct {
	cfg      *config.Config
	repoRoot string
	runner   Runner
	store    *session.Store
	vcs      git.Collaborator
	hooks    *hooks.Dispatcher

	observer Observer
	events   *eventlog.Writer
	archive  *archive.Store
	commands chan Command

	verbose bool
	dryRun  bool
	logger  *logx.Logger
}

func New(cfg *config.Config, repoRoot string, runner Runner, store *session.Store, vcs git.Collaborator, dispatcher *hooks.Dispatcher) *Loop {
	return &Loop{
		cfg:      cfg,
		repoRoot: repoRoot,
		runner:   runner,
		store:    store,
		vcs:      vcs,
		hooks:    dispatcher,
		commands: make(chan Command, 16),
		logger:   logx.NewLogger("loop"),
	}
}

// WithObserver attaches a state change observer.
func (l *Loop) WithObserver(o Observer) *Loop { l.observer = o; return l }

// WithEventLog attaches a structured event writer. Failures to write events
// are logged and never interrupt the run.
func (l *Loop) WithEventLog(w *eventlog.Writer) *Loop { l.events = w; return l }

// WithArchive attaches the historical sqlite store, written best-effort.
func (l *Loop) WithArchive(a *archive.Store) *Loop { l.archive = a; return l }

func (l *Loop) WithVerbose(v bool) *Loop { l.verbose = v; return l }
func (l *Loop) WithDryRun(d bool) *Loop { l.dryRun = d; return l }

// Commands returns the channel for external control commands. Commands are
// applied at the next decision point between attempts.
func (l *Loop) Commands() chan<- Command { return l.commands }

// Run executes up to `requested` iterations, or cfg.DefaultIterations when
// requested is zero. With resume=true an existing checkpoint continues the
// stored session; absent one a fresh session starts silently.
//
// Run never returns an error: every failure mode becomes a terminal phase
// in the RunResult, with OnError hooks fired for engine errors and Done
// hooks fired for every other terminal.
func (l *Loop) Run(ctx context.Context, requested int, resume bool) *RunResult {
	if requested <= 0 {
		requested = l.cfg.DefaultIterations
	}

	sess, start := l.openSession(ctx, resume)
	total := start - 1 + requested

	st := &runState{sess: sess, n: start, total: total}

	l.notify(PhaseIdle, st, "starting")
	l.hooks.BeforeRun(l.hookCtx(st, nil, nil))

	if l.dryRun {
		res := l.finish(st, PhaseCompleted,
			fmt.Sprintf("dry run: would execute iterations %d through %d", start, total))
		return res
	}

	if err := l.store.Save(sess); err != nil {
		st.compromised = true
		l.logger.Error("initial session save failed, continuing in memory: %v", err)
	}
	if l.archive != nil {
		// Upsert the session row now so attempt rows have their parent;
		// finish overwrites the outcome.
		if err := l.archive.RecordSession(context.Background(), sess, "running"); err != nil {
			l.logger.Warn("archive write failed: %v", err)
		}
	}

	for {
		if res := l.applyCommands(st); res != nil {
			return res
		}
		if st.n > st.total {
			// A mid-run adjustment lowered the total below the next
			// iteration number.
			return l.finish(st, PhaseCompleted,
				fmt.Sprintf("iteration limit %d reached", st.total))
		}

		if res := l.attempt(ctx, st); res != nil {
			return res
		}
	}
}

// runState is the loop's mutable position between attempts.
type runState struct {
	sess        *session.Session
	n           int
	total       int
	retryCount  int
	token       string
	ran         int
	compromised bool
	warned      bool
	pause       bool
}

func (l *Loop) openSession(ctx context.Context, resume bool) (*session.Session, int) {
	if resume {
		resumed, err := l.store.ResumeFromCheckpoint()
		if err != nil {
			l.logger.Warn("checkpoint resume failed, starting fresh: %v", err)
		}
		if resumed != nil {
			l.logger.Info("resuming session %s from iteration %d", resumed.Session.ID, resumed.ResumeIteration)
			return resumed.Session, resumed.ResumeIteration
		}
	}
	branch := l.vcs.CurrentBranch(ctx)
	commit := l.vcs.HeadCommit(ctx)
	sess := l.store.Create(branch, commit)
	l.logger.Info("starting session %s on %s@%s", sess.ID, branch, commit)
	return sess, 1
}

// attempt runs one invocation and acts on the resulting policy decision.
// It returns a non-nil RunResult when the run is over.
func (l *Loop) attempt(ctx context.Context, st *runState) *RunResult {
	phase := PhaseRunning
	status := fmt.Sprintf("iteration %d/%d", st.n, st.total)
	if st.retryCount > 0 {
		phase = PhaseRetrying
		status = fmt.Sprintf("iteration %d/%d (retry %d/%d)", st.n, st.total, st.retryCount, l.cfg.MaxRetries)
	}
	l.notify(phase, st, status)
	l.hooks.BeforeIteration(l.hookCtx(st, nil, nil))
	l.writeEvent(eventlog.Event{
		Kind:       eventlog.KindAttemptStarted,
		SessionID:  st.sess.ID,
		Iteration:  st.n,
		RetryCount: st.retryCount,
	})

	rec, token, err := l.runner.Run(ctx, st.n, st.token)
	if err != nil {
		// The controller only surfaces configuration errors; nothing was
		// invoked and no record exists, so fail without touching history.
		l.logger.Error("iteration %d could not start: %v", st.n, err)
		l.hooks.OnError(l.hookCtx(st, nil, err))
		return l.finish(st, PhaseFailed, err.Error())
	}
	st.token = token
	st.ran++

	cancelled := rec.Status == session.StatusCancelled
	var dec policy.Decision
	if !cancelled {
		dec = policy.Decide(rec, l.cfg, st.total, st.sess.TotalCostUSD, st.retryCount)
		if dec.Kind == policy.StopCostLimitIteration || dec.Kind == policy.StopCostLimitSession {
			rec.CostLimitExceeded = true
			rec.CostLimitReason = dec.Reason
		}
	}

	st.sess = session.AppendIterationResult(st.sess, *rec)
	l.persist(st)
	l.observeAttempt(st, rec)
	l.hooks.AfterIteration(l.hookCtx(st, rec, nil))

	if cancelled {
		// Cancellation consumes no retry, incurs no policy evaluation, and
		// advances no checkpoint. The partial session stays summarizable.
		return l.finish(st, PhaseCancelled, "run cancelled during iteration "+fmt.Sprint(st.n))
	}

	l.writeEvent(eventlog.Event{
		Kind:       eventlog.KindDecision,
		SessionID:  st.sess.ID,
		Iteration:  st.n,
		RetryCount: st.retryCount,
		Decision:   string(dec.Kind),
		Detail:     dec.Reason,
	})

	switch dec.Kind {
	case policy.Retry:
		st.retryCount = dec.NextRetryCount
		metrics.RetriesTotal.Inc()
		l.logger.Warn("iteration %d failed, retrying (%d/%d): %s", st.n, st.retryCount, l.cfg.MaxRetries, dec.Reason)
		return nil
	case policy.Continue:
		l.checkpoint(ctx, st)
		st.n = dec.NextIteration
		st.retryCount = 0
		return nil
	}

	// Terminal decision. A successful final iteration is still a completed
	// unit of work, so the checkpoint advances before the run ends.
	if rec.Success {
		l.checkpoint(ctx, st)
	}
	return l.finish(st, terminalPhase(dec.Kind), dec.Reason)
}

func terminalPhase(k policy.Kind) Phase {
	switch k {
	case policy.StopCostLimitIteration, policy.StopCostLimitSession:
		return PhaseCostLimited
	case policy.StopRetriesExhausted:
		return PhaseRetriesExhausted
	default:
		return PhaseCompleted
	}
}

// applyCommands drains pending control commands. It returns a non-nil
// RunResult when a command ends the run.
func (l *Loop) applyCommands(st *runState) *RunResult {
	for {
		select {
		case cmd := <-l.commands:
			switch cmd.Kind {
			case CommandSetIterations:
				if cmd.Iterations > 0 {
					l.logger.Info("iteration total adjusted %d -> %d", st.total, cmd.Iterations)
					st.total = cmd.Iterations
				}
			case CommandPause:
				st.pause = true
			case CommandStop:
				return l.finish(st, PhaseCancelled, "stop requested")
			}
		default:
			if st.pause {
				return l.finish(st, PhasePaused, "paused on request")
			}
			return nil
		}
	}
}

func (l *Loop) checkpoint(ctx context.Context, st *runState) {
	commit := l.vcs.HeadCommit(ctx)
	if err := l.store.SaveCheckpoint(st.sess, st.n, commit); err != nil {
		st.compromised = true
		l.logger.Error("checkpoint save failed, continuing in memory: %v", err)
		return
	}
	l.writeEvent(eventlog.Event{
		Kind:      eventlog.KindCheckpoint,
		SessionID: st.sess.ID,
		Iteration: st.n,
		Detail:    commit,
	})
}

func (l *Loop) persist(st *runState) {
	if err := l.store.Save(st.sess); err != nil {
		st.compromised = true
		l.logger.Error("session save failed, continuing in memory: %v", err)
	}
}

func (l *Loop) observeAttempt(st *runState, rec *session.IterationRecord) {
	var in, out int64
	if rec.Usage != nil {
		in, out = rec.Usage.InputTokens, rec.Usage.OutputTokens
	}
	metrics.ObserveAttempt(rec.Status, rec.DurationSeconds, rec.CostUSD(), in, out)
	l.writeEvent(eventlog.Event{
		Kind:       eventlog.KindAttemptFinished,
		SessionID:  st.sess.ID,
		Iteration:  rec.Iteration,
		RetryCount: st.retryCount,
		Status:     rec.Status,
		CostUSD:    rec.CostUSD(),
	})
	if l.archive != nil {
		if err := l.archive.RecordAttempt(context.Background(), st.sess.ID, rec, st.retryCount); err != nil {
			l.logger.Warn("archive write failed: %v", err)
		}
	}
	if l.cfg.WarnCostThreshold > 0 && st.sess.TotalCostUSD > l.cfg.WarnCostThreshold && !st.warned {
		st.warned = true
		l.logger.Warn("session cost $%.4f passed warning threshold $%.4f", st.sess.TotalCostUSD, l.cfg.WarnCostThreshold)
	}
}

// finish records the terminal state, fires the Done hook (OnError was
// already fired by the caller for engine errors), and builds the result.
// Archive writes use a fresh context: by the time a cancelled run gets
// here its context is already dead, and the terminal row must still land.
func (l *Loop) finish(st *runState, phase Phase, reason string) *RunResult {
	if phase != PhaseFailed {
		l.hooks.Done(l.hookCtx(st, nil, nil))
	}
	if l.archive != nil {
		if err := l.archive.RecordSession(context.Background(), st.sess, string(phase)); err != nil {
			l.logger.Warn("archive session write failed: %v", err)
		}
	}
	l.writeEvent(eventlog.Event{
		Kind:      eventlog.KindRunFinished,
		SessionID: st.sess.ID,
		Iteration: st.n,
		Status:    string(phase),
		Detail:    reason,
		CostUSD:   st.sess.TotalCostUSD,
	})
	l.notify(phase, st, reason)
	l.logger.Info("run finished: %s (%s), %d attempt(s), $%.4f", phase, reason, st.ran, st.sess.TotalCostUSD)
	return &RunResult{
		Phase:                  phase,
		Reason:                 reason,
		Session:                st.sess,
		IterationsRun:          st.ran,
		PersistenceCompromised: st.compromised,
	}
}

func (l *Loop) notify(phase Phase, st *runState, status string) {
	if l.observer == nil {
		return
	}
	stats, _ := backlog.ScanFile(filepath.Join(l.repoRoot, l.cfg.BacklogFile))
	l.observer.OnStateChange(Snapshot{
		Phase:           phase,
		Iteration:       st.n,
		TotalIterations: st.total,
		RetryCount:      st.retryCount,
		Status:          status,
		Session:         st.sess,
		Backlog:         stats,
	})
}

func (l *Loop) hookCtx(st *runState, rec *session.IterationRecord, err error) hooks.Context {
	return hooks.Context{
		Config:          l.cfg,
		Session:         st.sess,
		RepoRoot:        l.repoRoot,
		Branch:          st.sess.Branch,
		Verbose:         l.verbose,
		DryRun:          l.dryRun,
		Iteration:       st.n,
		TotalIterations: st.total,
		Result:          rec,
		Err:             err,
	}
}

func (l *Loop) writeEvent(ev eventlog.Event) {
	if l.events == nil {
		return
	}
	if err := l.events.Write(ev); err != nil {
		l.logger.Warn("event log write failed: %v", err)
	}
}
