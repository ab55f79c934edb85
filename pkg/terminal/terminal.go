// Package terminal implements the interactive pwalk shell and the printers
// shared with the one-shot commands.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-delve/liner"

	"github.com/powerwalker/pwalk/pkg/config"
	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
	"github.com/powerwalker/pwalk/service/api"
	"github.com/powerwalker/pwalk/service/tracer"
)

const historyFile string = ".pwalk_history"

// Service is the set of operations the shell runs commands against.
// *tracer.Tracer implements it.
type Service interface {
	GetStackTrace(ctx context.Context, pid, tid int) (*proc.StackTrace, error)
	TraceProcess(ctx context.Context, pid int) ([]tracer.ThreadTrace, error)
	Threads(pid int) ([]int, error)
	Modules(pid int, filter proc.ModuleFilter) ([]proc.ModuleRecord, error)
	Registers(pid, tid int) ([]winutil.Register, error)
	Reload(pid int) (int, error)
	ReadMemory(pid int, addr uint64, n int) ([]byte, error)
	Info(pid int) (*api.ProcessInfo, error)
}

var _ Service = (*tracer.Tracer)(nil)

// Term represents the pwalk shell.
type Term struct {
	svc     Service
	conf    *config.Config
	prompt  string
	line    *liner.State
	cmds    *Commands
	out     *Printer
	stdout  io.Writer
	color   bool
	timeout time.Duration

	// Reconfigure is called after a configuration parameter that affects
	// walks changes. The returned Service replaces the current one.
	Reconfigure func(*config.Config) (Service, error)
}

// New returns a new Term. Output goes to out, which must write to stdout
// when Run is used.
func New(svc Service, conf *config.Config, out *Printer) (*Term, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	timeout, err := conf.GetTimeout()
	if err != nil {
		return nil, err
	}
	cmds := DefaultCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}
	return &Term{
		svc:     svc,
		conf:    conf,
		prompt:  "(pwalk) ",
		cmds:    cmds,
		out:     out,
		stdout:  out.w,
		color:   out.color,
		timeout: timeout,
	}, nil
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
		t.line = nil
	}
}

func (t *Term) context() (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), t.timeout)
}

// applyConfig propagates a change of configuration parameter name.
func (t *Term) applyConfig(name string) error {
	switch name {
	case "alias":
		return nil
	case "no-color":
		t.out.SetColor(t.color && !t.conf.NoColor)
		return nil
	case "timeout":
		timeout, err := t.conf.GetTimeout()
		if err != nil {
			return err
		}
		t.timeout = timeout
		return nil
	}
	if t.Reconfigure == nil {
		return nil
	}
	svc, err := t.Reconfigure(t.conf)
	if err != nil {
		return err
	}
	t.svc = svc
	return nil
}

// Exec runs a single command line.
func (t *Term) Exec(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

// Run begins running the shell in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	t.line.SetCtrlCAborts(true)
	t.line.SetCompleter(t.cmds.Complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == liner.ErrPromptAborted {
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.Exec(cmdstr); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}
