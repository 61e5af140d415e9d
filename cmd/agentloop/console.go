package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"agentloop/pkg/loop"
)

// console renders run progress to the terminal. It doubles as the agent's
// streaming observer (raw text in verbose mode, activity lines otherwise)
// and the loop's state observer.
type console struct {
	verbose bool
	tty     bool
}

func newConsole(verbose bool) *console {
	return &console{
		verbose: verbose,
		tty:     term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// OnText streams raw agent output in verbose mode.
func (c *console) OnText(chunk string) {
	if c.verbose {
		fmt.Print(chunk)
	}
}

// OnStatus prints short activity lines, skipped when piped so that
// downstream consumers only see final output.
func (c *console) OnStatus(status string) {
	if c.tty && !c.verbose {
		fmt.Printf("  · %s\n", status)
	}
}

// OnStateChange prints the loop position after each state change.
func (c *console) OnStateChange(s loop.Snapshot) {
	if !c.tty {
		return
	}
	switch s.Phase {
	case loop.PhaseRunning, loop.PhaseRetrying:
		cost := 0.0
		if s.Session != nil {
			cost = s.Session.TotalCostUSD
		}
		fmt.Printf("▸ %s  [backlog: %d open, %d done, $%.4f spent]\n",
			s.Status, s.Backlog.Open, s.Backlog.Done, cost)
	case loop.PhaseIdle:
		fmt.Printf("▸ %s\n", s.Status)
	}
}

func (c *console) summarize(res *loop.RunResult) {
	fmt.Printf("\n%s: %s\n", res.Phase, res.Reason)
	if res.Session != nil {
		fmt.Printf("  attempts: %d, total cost: $%.4f\n", res.IterationsRun, res.Session.TotalCostUSD)
		if res.Session.Checkpoint != nil {
			fmt.Printf("  checkpoint: iteration %d @ %s\n",
				res.Session.Checkpoint.Iteration, res.Session.Checkpoint.Commit)
		}
	}
	if res.PersistenceCompromised {
		fmt.Println("  warning: session persistence failed during the run; resume may not work")
	}
}
