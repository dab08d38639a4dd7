// Package tui is the terminal front end of the console. It reads line commands, passes them to
// the controller as actions and renders controller state as tables.
package tui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	log "github.com/go-pkgz/lgr"
	"github.com/pterm/pterm"

	"github.com/umputun/qman/app/console"
	"github.com/umputun/qman/app/enums"
	"github.com/umputun/qman/app/jobform"
)

// Controller is the subset of console.Controller used by the terminal
type Controller interface {
	Snapshot() console.State
	CreateJob(ctx context.Context) error
	EditJob(ctx context.Context, key string) error
	ViewJob(ctx context.Context, key string) error
	ViewHistory(ctx context.Context, key string) error
	Back(ctx context.Context) error
	Refresh(ctx context.Context) error
	Search(ctx context.Context, term string) error
	DeleteJob(ctx context.Context, key string) error
	DismissAlert(ctx context.Context) error
	SetField(ctx context.Context, field, value string) error
	SetProp(ctx context.Context, key, value string) error
	RemoveProp(ctx context.Context, key string) error
	Save(ctx context.Context) error
}

// Console is the interactive terminal session
type Console struct {
	ctrl    Controller
	in      io.Reader
	out     io.Writer
	version string

	changed chan struct{}

	mu       sync.Mutex
	seen     screenMarks // what was shown for asynchronous changes
	deleting string      // key waiting for delete confirmation
}

// Params for New
type Params struct {
	Controller Controller
	In         io.Reader
	Out        io.Writer
	Version    string
}

// screenMarks are the parts of state changing asynchronously which are worth printing unasked
type screenMarks struct {
	epoch     uint64
	alert     string
	formError string
	listError string
}

// errQuit returned by Exec on quit command
var errQuit = errors.New("quit")

const helpText = `commands:
  ls                      show current view
  search <term>           filter dashboard by job name or group, empty term clears
  refresh                 reload current view
  new                     create job
  edit <n|group/name>     edit job
  view <n|group/name>     job details
  history <n|group/name>  job execution history
  rm <n|group/name>       delete job, asks for confirmation
  back                    return to dashboard
  set <field> <value>     set form field: name, group, desc, cron, method, url, body, start, end
                          cron takes an expression or a preset listed below
  prop <key> <value>      set additional property, header.<name> for http headers
  unprop <key>            remove additional property
  save                    submit the form
  ok                      dismiss alert
  help                    this help
  quit                    exit
`

// New makes the console, it doesn't start reading until Run
func New(p Params) *Console {
	return &Console{ctrl: p.Controller, in: p.In, out: p.Out, version: p.Version, changed: make(chan struct{}, 1)}
}

// Changed is the controller's state change callback. It never blocks the controller loop.
func (c *Console) Changed(console.State) {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// Run reads and executes commands until quit, end of input or ctx cancellation
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Printf("[WARN] can't read input: %v", err)
		}
	}()

	fmt.Fprintf(c.out, "%s %s, type 'help' for commands\n", pterm.LightCyan("qman"), c.version)
	c.show(c.ctrl.Snapshot())
	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.changed:
			c.showChanges()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := c.Exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprint(c.out, pterm.Error.Sprintln(err.Error()))
			}
			c.prompt()
		}
	}
}

// Exec runs a single command line. While an alert is shown only 'ok' and read-only commands work.
func (c *Console) Exec(ctx context.Context, line string) error {
	err := c.exec(ctx, line)
	if errors.Is(err, console.ErrAlertPending) {
		return fmt.Errorf("%w, type 'ok' to dismiss it first", err)
	}
	return err
}

func (c *Console) exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if key := c.pendingDelete(); key != "" {
		if line == "y" || line == "yes" {
			if err := c.ctrl.DeleteJob(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleting %s\n", key)
			return nil
		}
		fmt.Fprintln(c.out, "delete canceled")
		return nil
	}
	if line == "" {
		return nil
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "ls", "list":
		c.show(c.ctrl.Snapshot())
		return nil
	case "help", "?":
		fmt.Fprint(c.out, helpText)
		fmt.Fprintln(c.out, "cron presets:")
		for _, p := range jobform.CronPresets {
			fmt.Fprintf(c.out, "  %-22s  %s (%s)\n", p.Alias, p.Title, p.Cron)
		}
		return nil
	case "quit", "exit", "q":
		return errQuit
	case "search":
		return c.do(func() error { return c.ctrl.Search(ctx, arg) })
	case "refresh":
		return c.ctrl.Refresh(ctx)
	case "new":
		return c.do(func() error { return c.ctrl.CreateJob(ctx) })
	case "edit", "view", "history":
		key, err := c.resolve(arg)
		if err != nil {
			return err
		}
		actions := map[string]func(context.Context, string) error{
			"edit": c.ctrl.EditJob, "view": c.ctrl.ViewJob, "history": c.ctrl.ViewHistory}
		return c.do(func() error { return actions[cmd](ctx, key) })
	case "rm", "delete":
		st := c.ctrl.Snapshot()
		if st.Alert != "" {
			return console.ErrAlertPending
		}
		if st.View != enums.ViewDashboard {
			return errors.New("delete is available on dashboard only, type 'back' first")
		}
		key, err := c.resolve(arg)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.deleting = key
		c.mu.Unlock()
		fmt.Fprintf(c.out, "delete job %s? (yes/no)\n", key)
		return nil
	case "back":
		return c.do(func() error { return c.ctrl.Back(ctx) })
	case "set":
		field, value, _ := strings.Cut(arg, " ")
		if field == "" {
			return errors.New("usage: set <field> <value>")
		}
		return c.do(func() error { return c.ctrl.SetField(ctx, field, strings.TrimSpace(value)) })
	case "prop":
		key, value, _ := strings.Cut(arg, " ")
		if key == "" {
			return errors.New("usage: prop <key> <value>")
		}
		return c.do(func() error { return c.ctrl.SetProp(ctx, key, strings.TrimSpace(value)) })
	case "unprop":
		if arg == "" {
			return errors.New("usage: unprop <key>")
		}
		return c.do(func() error { return c.ctrl.RemoveProp(ctx, arg) })
	case "save":
		err := c.ctrl.Save(ctx)
		var fe jobform.FieldErrors
		if errors.As(err, &fe) {
			c.show(c.ctrl.Snapshot())
			return errors.New("form has errors")
		}
		return err
	case "ok":
		return c.do(func() error { return c.ctrl.DismissAlert(ctx) })
	}
	return fmt.Errorf("unknown command %q, type 'help' for commands", cmd)
}

// do runs the action and shows the resulting state
func (c *Console) do(action func() error) error {
	if err := action(); err != nil {
		return err
	}
	c.show(c.ctrl.Snapshot())
	return nil
}

// resolve turns row number of the filtered dashboard list or "group/name" into a job key
func (c *Console) resolve(ref string) (string, error) {
	if ref == "" {
		return "", errors.New("job number or group/name is required")
	}
	if strings.Contains(ref, "/") {
		return ref, nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return "", fmt.Errorf("invalid job reference %q", ref)
	}
	jobs := c.ctrl.Snapshot().Filtered()
	if n < 1 || n > len(jobs) {
		return "", fmt.Errorf("no job #%d, %d jobs listed", n, len(jobs))
	}
	return jobs[n-1].Key(), nil
}

func (c *Console) pendingDelete() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.deleting
	c.deleting = ""
	return key
}

// show renders the whole state and remembers it as seen
func (c *Console) show(st console.State) {
	fmt.Fprint(c.out, Render(st))
	c.mu.Lock()
	c.seen = marks(st)
	c.mu.Unlock()
}

// showChanges prints the screen again only if something the user didn't ask for happened,
// i.e. navigation after save, a new alert or error. Regular poll updates stay silent.
func (c *Console) showChanges() {
	st := c.ctrl.Snapshot()
	c.mu.Lock()
	prev := c.seen
	c.mu.Unlock()
	cur := marks(st)
	if cur == prev {
		return
	}
	if cur.epoch == prev.epoch && cur.alert == "" && cur.formError == "" && cur.listError == "" {
		c.mu.Lock()
		c.seen = cur
		c.mu.Unlock()
		return
	}
	fmt.Fprintln(c.out)
	c.show(st)
	c.prompt()
}

func (c *Console) prompt() {
	fmt.Fprintf(c.out, "%s> ", c.ctrl.Snapshot().View)
}

func marks(st console.State) screenMarks {
	return screenMarks{epoch: st.Epoch, alert: st.Alert, formError: st.FormError, listError: st.ListError}
}
