// Command agentloop drives an autonomous coding agent through a repository
// backlog, one bounded iteration at a time.
//
// Usage:
//
//	agentloop run [-n N] [-repo DIR] [-verbose] [-dry-run]
//	agentloop resume [-n N] [-repo DIR] [-verbose]
//	agentloop status [-repo DIR]
//	agentloop reset [-repo DIR]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"agentloop/pkg/agent"
	"agentloop/pkg/archive"
	"agentloop/pkg/backlog"
	"agentloop/pkg/config"
	"agentloop/pkg/eventlog"
	"agentloop/pkg/git"
	"agentloop/pkg/hooks"
	"agentloop/pkg/iteration"
	"agentloop/pkg/logx"
	"agentloop/pkg/loop"
	"agentloop/pkg/session"
	"agentloop/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:], false)
	case "resume":
		err = cmdRun(os.Args[2:], true)
	case "status":
		err = cmdStatus(os.Args[2:])
	case "reset":
		err = cmdReset(os.Args[2:])
	case "version":
		fmt.Println(version.Version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `agentloop - backlog-driven agent iteration engine

commands:
  run      start a new session (-n N iterations, -dry-run, -verbose, -repo DIR)
  resume   continue from the last checkpoint (-n N more iterations)
  status   show the current session and recent history
  reset    discard the current session record
  version  print the build version
`)
}

func cmdRun(args []string, resume bool) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	repo := fs.String("repo", ".", "repository root to operate on")
	n := fs.Int("n", 0, "number of iterations (default from config)")
	verbose := fs.Bool("verbose", false, "stream agent output to the terminal")
	dryRun := fs.Bool("dry-run", false, "report what would run without invoking the agent")
	_ = fs.Parse(args)

	root, err := filepath.Abs(*repo)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	console := newConsole(*verbose)
	invoker, err := agent.NewInvoker(&cfg, root, console)
	if err != nil {
		return err
	}
	controller := iteration.NewController(root, &cfg, invoker)

	dispatcher := hooks.NewDispatcher()
	if err := hooks.LoadDir(dispatcher, filepath.Join(root, cfg.PluginDir)); err != nil {
		return fmt.Errorf("plugin load failed: %w", err)
	}
	if c := dispatcher.PluginCount(); c > 0 {
		logx.Infof("loaded %d plugin(s) from %s", c, cfg.PluginDir)
	}

	events, err := eventlog.NewWriter(filepath.Join(root, config.ConfigDir, "events"))
	if err != nil {
		return err
	}
	defer events.Close()

	hist, err := archive.Open(filepath.Join(root, config.ConfigDir, config.ArchiveFilename))
	if err != nil {
		return err
	}
	defer hist.Close()

	l := loop.New(&cfg, root, controller, session.NewStore(root), git.NewInfo(root), dispatcher).
		WithObserver(console).
		WithEventLog(events).
		WithArchive(hist).
		WithVerbose(*verbose).
		WithDryRun(*dryRun)

	res := l.Run(ctx, *n, resume)
	console.summarize(res)

	switch res.Phase {
	case loop.PhaseCompleted, loop.PhasePaused, loop.PhaseCancelled:
		return nil
	default:
		os.Exit(1)
		return nil
	}
}

func cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	repo := fs.String("repo", ".", "repository root to operate on")
	limit := fs.Int("limit", 10, "number of historical sessions to show")
	_ = fs.Parse(args)

	root, err := filepath.Abs(*repo)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	sess, err := session.NewStore(root).Load()
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Println("no active session")
	} else {
		fmt.Printf("session %s on %s (started %s)\n", sess.ID, sess.Branch,
			sess.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  iterations recorded: %d, total cost: $%.4f\n",
			len(sess.Iterations), sess.TotalCostUSD)
		if sess.Checkpoint != nil {
			fmt.Printf("  checkpoint: iteration %d @ %s\n",
				sess.Checkpoint.Iteration, sess.Checkpoint.Commit)
		}
	}

	if stats, err := backlog.ScanFile(filepath.Join(root, cfg.BacklogFile)); err == nil {
		fmt.Printf("backlog: %d open, %d done\n", stats.Open, stats.Done)
	}

	dbPath := filepath.Join(root, config.ConfigDir, config.ArchiveFilename)
	if _, err := os.Stat(dbPath); err != nil {
		return nil
	}
	hist, err := archive.Open(dbPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	summaries, err := hist.Summaries(context.Background(), *limit)
	if err != nil {
		return err
	}
	if len(summaries) > 0 {
		fmt.Println("\nrecent sessions:")
		for _, s := range summaries {
			fmt.Printf("  %s  %-18s  %3d iter  $%.4f  %s\n",
				s.StartedAt.Format("2006-01-02 15:04"), s.Outcome, s.Attempts, s.TotalCostUSD, s.Branch)
		}
	}
	return nil
}

func cmdReset(args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	repo := fs.String("repo", ".", "repository root to operate on")
	_ = fs.Parse(args)

	root, err := filepath.Abs(*repo)
	if err != nil {
		return err
	}
	if err := session.NewStore(root).Clear(); err != nil {
		return err
	}
	fmt.Println("session record cleared")
	return nil
}
