package terminal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-isatty"

	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/winutil"
	"github.com/powerwalker/pwalk/service/api"
	"github.com/powerwalker/pwalk/service/tracer"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed     = 31
	ansiGreen   = 32
	ansiYellow  = 33
	ansiBlue    = 34
	ansiCyan    = 36
	ansiBrBlack = 90
)

// Format is the output format of a Printer.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q, must be text or json", s)
}

// Printer writes walk results in text or JSON form.
type Printer struct {
	w      io.Writer
	format Format
	color  bool
}

// NewPrinter returns a Printer writing to w. Colors are only used in text
// format.
func NewPrinter(w io.Writer, format Format, color bool) *Printer {
	return &Printer{w: w, format: format, color: color && format == FormatText}
}

// NewStdoutPrinter returns a Printer writing to standard output, with
// colors when standard output is a terminal and noColor is not set.
func NewStdoutPrinter(format Format, noColor bool) *Printer {
	color := !noColor && isatty.IsTerminal(os.Stdout.Fd()) && strings.ToLower(os.Getenv("TERM")) != "dumb"
	w := io.Writer(os.Stdout)
	if color {
		w = getColorableWriter()
	}
	return NewPrinter(w, format, color)
}

// SetColor enables or disables colors. Colors stay disabled in JSON format.
func (p *Printer) SetColor(color bool) {
	p.color = color && p.format == FormatText
}

func (p *Printer) colorize(code int, s string) string {
	if !p.color || s == "" {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, code) + s + terminalResetEscapeCode
}

func (p *Printer) writeJSON(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// StackTrace prints one walk.
func (p *Printer) StackTrace(st *proc.StackTrace) error {
	r := api.ConvertStackTrace(st)
	if p.format == FormatJSON {
		return p.writeJSON(r)
	}
	p.writeStackTrace(r)
	return nil
}

func (p *Printer) writeStackTrace(st *api.StackTrace) {
	fmt.Fprintf(p.w, "%s %s\n", st.Header(), p.colorize(ansiBrBlack, "walk "+st.WalkID))
	ptrSize := st.PtrSize()
	w := tabwriter.NewWriter(p.w, 0, 8, 1, ' ', 0)
	for i := range st.Frames {
		f := &st.Frames[i]
		fmt.Fprintf(w, "#%d\t%s\t%s\tret=%s\n", i,
			p.colorize(ansiBlue, api.FormatAddr(f.PC, ptrSize)),
			p.colorize(ansiGreen, f.Location()),
			api.FormatAddr(f.Return, ptrSize))
		if f.Instruction != "" {
			fmt.Fprintf(w, "\t\t%s\t\n", p.colorize(ansiCyan, f.Instruction))
		}
	}
	w.Flush()
	switch {
	case st.Cyclic:
		fmt.Fprintln(p.w, p.colorize(ansiYellow, "(stack truncated, frame repeats)"))
	case st.Truncated:
		fmt.Fprintln(p.w, p.colorize(ansiYellow, fmt.Sprintf("(stack truncated after %d frames)", len(st.Frames))))
	}
}

// ThreadTraces prints the walks of every thread of process pid. Failed
// walks are printed in place of their frames.
func (p *Printer) ThreadTraces(pid int, traces []tracer.ThreadTrace) error {
	if p.format == FormatJSON {
		r := make([]*api.StackTrace, 0, len(traces))
		for _, tt := range traces {
			r = append(r, convertThreadTrace(pid, tt))
		}
		return p.writeJSON(r)
	}
	for i, tt := range traces {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		if tt.Err != nil {
			fmt.Fprintf(p.w, "thread %d of process %d: %s\n", tt.Tid, pid, p.colorize(ansiRed, tt.Err.Error()))
			continue
		}
		p.writeStackTrace(api.ConvertStackTrace(tt.Trace))
	}
	return nil
}

// ProcessTraces prints the walks of several processes.
func (p *Printer) ProcessTraces(traces []tracer.ProcessTrace) error {
	if p.format == FormatJSON {
		type processTrace struct {
			Pid     int               `json:"pid"`
			Threads []*api.StackTrace `json:"threads"`
			Err     string            `json:"err,omitempty"`
		}
		r := make([]processTrace, 0, len(traces))
		for _, pt := range traces {
			x := processTrace{Pid: pt.Pid, Threads: []*api.StackTrace{}}
			if pt.Err != nil {
				x.Err = pt.Err.Error()
			}
			for _, tt := range pt.Threads {
				x.Threads = append(x.Threads, convertThreadTrace(pt.Pid, tt))
			}
			r = append(r, x)
		}
		return p.writeJSON(r)
	}
	for i, pt := range traces {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		fmt.Fprintln(p.w, p.colorize(ansiBrBlack, fmt.Sprintf("=== process %d", pt.Pid)))
		if pt.Err != nil {
			fmt.Fprintf(p.w, "process %d: %s\n", pt.Pid, p.colorize(ansiRed, pt.Err.Error()))
			continue
		}
		p.ThreadTraces(pt.Pid, pt.Threads)
	}
	return nil
}

func convertThreadTrace(pid int, tt tracer.ThreadTrace) *api.StackTrace {
	if tt.Err != nil {
		return &api.StackTrace{Pid: pid, Tid: tt.Tid, Err: tt.Err.Error()}
	}
	return api.ConvertStackTrace(tt.Trace)
}

// Modules prints a module list.
func (p *Printer) Modules(mods []proc.ModuleRecord) error {
	r := api.ConvertModules(mods)
	if p.format == FormatJSON {
		return p.writeJSON(r)
	}
	w := tabwriter.NewWriter(p.w, 0, 8, 2, ' ', 0)
	for _, m := range r {
		fmt.Fprintf(w, "%s\t%#x\t%s\t%s\n", p.colorize(ansiBlue, api.FormatAddr(m.Base, 8)), m.Size, m.Name, p.colorize(ansiBrBlack, m.Path))
	}
	return w.Flush()
}

// Threads prints the thread ids of process pid.
func (p *Printer) Threads(pid int, tids []int) error {
	if p.format == FormatJSON {
		return p.writeJSON(api.ConvertThreads(pid, tids))
	}
	for _, tid := range tids {
		fmt.Fprintf(p.w, "Thread %d\n", tid)
	}
	return nil
}

// Info prints a process summary.
func (p *Printer) Info(info *api.ProcessInfo) error {
	if p.format == FormatJSON {
		return p.writeJSON(info)
	}
	arch := info.Arch
	if info.Emulated {
		arch += " (emulated)"
	}
	w := tabwriter.NewWriter(p.w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "Process:\t%d\n", info.Pid)
	fmt.Fprintf(w, "Architecture:\t%s\n", arch)
	if info.PEB != 0 {
		fmt.Fprintf(w, "PEB:\t%#x\n", info.PEB)
	} else {
		fmt.Fprintf(w, "PEB:\t<unavailable>\n")
	}
	fmt.Fprintf(w, "Modules:\t%d\n", info.Modules)
	fmt.Fprintf(w, "Threads:\t%d\n", info.Threads)
	return w.Flush()
}

// Registers prints a captured register context.
func (p *Printer) Registers(regs []winutil.Register) error {
	r := api.ConvertRegisters(regs)
	if p.format == FormatJSON {
		return p.writeJSON(r)
	}
	w := tabwriter.NewWriter(p.w, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, reg := range r {
		fmt.Fprintf(w, "%s\t= %#016x\t\n", reg.Name, reg.Value)
	}
	return w.Flush()
}

// Memory prints memory read at addr.
func (p *Printer) Memory(addr uint64, mem []byte, format byte, size int) error {
	if p.format == FormatJSON {
		return p.writeJSON(struct {
			Addr  uint64 `json:"addr"`
			Bytes []byte `json:"bytes"`
		}{addr, mem})
	}
	_, err := io.WriteString(p.w, api.PrettyExamineMemory(addr, mem, format, size))
	return err
}
