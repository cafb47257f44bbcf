package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/runnerr0/onset/internal/ledger"
	"github.com/runnerr0/onset/internal/record"
	"github.com/runnerr0/onset/internal/task"
)

const sessionHelp = `Commands:
  list                         show markers
  add <seconds> [label]        append a manual marker
  delete <n|id>                delete a marker
  edit <n|id> field=value...   edit time, cf_value, mode, method, label, comment
  sort <field> [asc|desc]      reorder markers
  clear                        delete all markers
  undo | redo                  step through the command history
  history                      show undoable commands, oldest first
  detect                       run STA/LTA detection (replaces markers)
  refine <n|id>                refine a marker with AR-AIC
  save                         write markers to the database
  quit                         leave (unsaved changes are dropped unless --autosave)`

// errQuit ends the session loop.
var errQuit = errors.New("quit")

// Execute implements the go-flags Commander interface for SessionCommand.
func (c *SessionCommand) Execute(args []string) error {
	ref, err := requireRecordArg(args, "session")
	if err != nil {
		return err
	}

	a, err := openApp(c.globals)
	if err != nil {
		return err
	}
	defer a.Close()

	return c.executeWithStore(context.Background(), a, ref)
}

// shell is the state of one interactive session.
type shell struct {
	a      *app
	h      *ledger.History
	runner *task.Runner
	out    io.Writer
	dirty  bool
}

// executeWithStore runs the session over ref using a provided app (used
// by tests).
func (c *SessionCommand) executeWithStore(ctx context.Context, a *app, ref string) error {
	h, err := a.loadHistory(ctx, ref)
	if err != nil {
		return err
	}
	sh := &shell{
		a:      a,
		h:      h,
		runner: task.New(h, task.WithLogger(a.logger)),
		out:    os.Stdout,
	}
	l := h.Ledger()
	sub := l.Subscribe(sh.notify)
	defer l.Unsubscribe(sub)

	in := c.in
	if in == nil {
		in = os.Stdin
	}
	snap := l.Snapshot()
	fmt.Fprintf(sh.out, "%s (%s): %d samples at %g Hz, %d marker(s). Type help for commands.\n",
		snap.Name, shortID(snap.ID), snap.Signal.Len(), snap.Signal.SampleRate, len(snap.Markers))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(sh.out, "onset> ")
		if !scanner.Scan() {
			fmt.Fprintln(sh.out)
			break
		}
		err := sh.exec(ctx, strings.Fields(scanner.Text()))
		if errors.Is(err, errQuit) {
			break
		}
		if err != nil {
			fmt.Fprintf(sh.out, "error: %v\n", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read session input: %w", err)
	}

	if sh.dirty {
		if c.Autosave {
			return sh.save(ctx)
		}
		fmt.Fprintln(sh.out, "Unsaved changes dropped.")
	}
	return nil
}

// notify prints committed ledger changes as they happen.
func (sh *shell) notify(n ledger.Notification) {
	sh.dirty = true
	sig := sh.h.Ledger().Signal()
	switch n.Kind {
	case ledger.KindCreated, ledger.KindDeleted:
		fmt.Fprintf(sh.out, "  %s %s at %.3f s\n", n.Kind, shortID(n.Marker.ID), sig.Seconds(n.Marker.Time))
	case ledger.KindModified:
		names := make([]string, len(n.Fields))
		for i, f := range n.Fields {
			names[i] = string(f)
		}
		fmt.Fprintf(sh.out, "  modified %s: %s\n", shortID(n.Marker.ID), strings.Join(names, ", "))
	case ledger.KindReordered:
		fmt.Fprintf(sh.out, "  reordered %d marker(s)\n", n.Count)
	case ledger.KindDetectionPerformed:
		fmt.Fprintf(sh.out, "  detection produced %d marker(s)\n", n.Count)
	}
}

func (sh *shell) exec(ctx context.Context, words []string) error {
	if len(words) == 0 {
		return nil
	}
	l := sh.h.Ledger()
	cmd, args := strings.ToLower(words[0]), words[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(sh.out, sessionHelp)
	case "quit", "exit", "q":
		return errQuit
	case "list", "ls":
		printMarkers(sh.out, l.Markers(), l.Signal())
	case "add":
		if len(args) < 1 {
			return fmt.Errorf("usage: add <seconds> [label]")
		}
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid time %q", args[0])
		}
		t := l.Signal().Index(secs)
		m := record.NewMarker(t, l.Snapshot().CFAt(t), record.ModeManual, record.MethodOther)
		m.Label = strings.Join(args[1:], " ")
		return sh.h.Append(m)
	case "delete", "del", "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <n|id>")
		}
		m, _, err := findMarker(l, args[0])
		if err != nil {
			return err
		}
		return sh.h.Delete(m)
	case "edit":
		if len(args) < 2 {
			return fmt.Errorf("usage: edit <n|id> field=value...")
		}
		m, _, err := findMarker(l, args[0])
		if err != nil {
			return err
		}
		p, err := ledger.ParseAssignments(args[1:])
		if err != nil {
			return err
		}
		return sh.h.Edit(m, p)
	case "sort":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: sort <field> [asc|desc]")
		}
		field, err := record.ParseField(args[0])
		if err != nil {
			return err
		}
		dir := ledger.Ascending
		if len(args) == 2 {
			if dir, err = ledger.ParseDirection(args[1]); err != nil {
				return err
			}
		}
		return sh.h.Sort(field, dir)
	case "clear":
		return sh.h.Clear()
	case "undo":
		ok, err := sh.h.Undo()
		if err == nil && !ok {
			fmt.Fprintln(sh.out, "Nothing to undo.")
		}
		return err
	case "redo":
		ok, err := sh.h.Redo()
		if err == nil && !ok {
			fmt.Fprintln(sh.out, "Nothing to redo.")
		}
		return err
	case "history":
		entries := sh.h.Entries()
		if len(entries) == 0 {
			fmt.Fprintln(sh.out, "No history.")
		}
		for i, e := range entries {
			fmt.Fprintf(sh.out, "%3d  %s\n", i+1, e)
		}
		fmt.Fprintf(sh.out, "redo: %s\n", sh.h.State())
	case "detect":
		det := (&DetectCommand{}).detector(sh.a)
		tctx, stop := interruptible(ctx)
		defer stop()
		o, err := detectOnce(tctx, sh.a, sh.runner, sh.h, det, sh.a.cfg.Detection.Refine, false)
		if err != nil {
			return err
		}
		return o.Err
	case "refine":
		if len(args) != 1 {
			return fmt.Errorf("usage: refine <n|id>")
		}
		m, _, err := findMarker(l, args[0])
		if err != nil {
			return err
		}
		sig := l.Signal()
		snap := l.Snapshot()
		opts := pickingOptions(sh.a.cfg, PickingFlags{})
		tctx, stop := interruptible(ctx)
		defer stop()
		o, err := runTask(tctx, sh.runner, task.Refine(sig, snap.CF, m, sig.Seconds(m.Time), opts))
		if err != nil {
			return err
		}
		return o.Err
	case "save":
		return sh.save(ctx)
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

func (sh *shell) save(ctx context.Context) error {
	if err := sh.a.save(ctx, sh.h); err != nil {
		return err
	}
	sh.dirty = false
	fmt.Fprintln(sh.out, "Saved.")
	return nil
}

// interruptible returns a context cancelled by Ctrl-C, for long tasks
// started from the shell.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}
