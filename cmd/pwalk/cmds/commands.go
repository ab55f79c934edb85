// Package cmds implements the pwalk command line.
package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/powerwalker/pwalk/pkg/config"
	"github.com/powerwalker/pwalk/pkg/logflags"
	"github.com/powerwalker/pwalk/pkg/proc"
	"github.com/powerwalker/pwalk/pkg/proc/native"
	"github.com/powerwalker/pwalk/pkg/terminal"
	"github.com/powerwalker/pwalk/pkg/version"
	"github.com/powerwalker/pwalk/service/tracer"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configFile overrides the default configuration file.
	configFile string

	// Walk settings, they override the configuration file when set.
	maxFrames       int
	timeout         time.Duration
	processAccess   []string
	threadAccess    []string
	symbolPath      string
	showInstruction bool
	noColor         bool
	concurrency     int

	format = formatFlag(terminal.FormatText)

	verbose bool

	conf *config.Config
)

const pwalkCommandLongDesc = `pwalk captures the call stack of threads of running Windows processes.

Every walk briefly suspends the target thread to capture its register
context, resumes it and unwinds its stack, resolving every frame to a
module, a symbol and, when symbols are available, a source line.
Native processes and 32-bit processes running under WOW64 are supported.`

// formatFlag is the --format flag.
type formatFlag terminal.Format

var _ pflag.Value = (*formatFlag)(nil)

func (f *formatFlag) String() string { return string(*f) }

func (f *formatFlag) Set(s string) error {
	v, err := terminal.ParseFormat(s)
	if err != nil {
		return err
	}
	*f = formatFlag(v)
	return nil
}

func (f *formatFlag) Type() string { return "format" }

// service is what the commands need from a tracer.
type service interface {
	terminal.Service
	TraceProcesses(ctx context.Context, pids []int) ([]tracer.ProcessTrace, error)
	Close() error
}

type nativeService struct {
	*tracer.Tracer
	backend *native.Backend
}

func (s *nativeService) Close() error {
	err := s.Tracer.Close()
	if berr := s.backend.Close(); err == nil {
		err = berr
	}
	return err
}

// openService starts a tracer on the native backend.
var openService = func(cfg tracer.Config) (service, error) {
	b, err := native.New()
	if err != nil {
		return nil, err
	}
	t, err := tracer.New(b, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	return &nativeService{Tracer: t, backend: b}, nil
}

var newPrinter = func(conf *config.Config) *terminal.Printer {
	return terminal.NewStdoutPrinter(terminal.Format(format), conf.NoColor)
}

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "pwalk",
		Short:         "pwalk prints stack traces of running Windows processes.",
		Long:          pwalkCommandLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			return loadConfig(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	flags := rootCommand.PersistentFlags()
	flags.BoolVarP(&log, "log", "", false, "Enable logging.")
	flags.StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'pwalk help log')`)
	flags.StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'pwalk help log').")
	flags.StringVar(&configFile, "config", "", "Configuration file, by default config.yml in the .pwalk directory of the home directory.")
	flags.IntVar(&maxFrames, "max-frames", 0, "Maximum number of frames of a stack trace.")
	flags.DurationVar(&timeout, "timeout", 0, "Maximum duration of a single stack walk, 0 for no limit.")
	flags.StringSliceVar(&processAccess, "process-access", nil, "Access rights used to open processes: all, query, query-limited, vm-read.")
	flags.StringSliceVar(&threadAccess, "thread-access", nil, "Access rights used to open threads: all, query, suspend-resume, get-context.")
	flags.StringVar(&symbolPath, "symbol-path", "", "Directories searched for symbol files, separated by semicolons.")
	flags.BoolVar(&showInstruction, "show-instruction", false, "Print the instruction at the program counter of every frame.")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output.")
	flags.VarP(&format, "format", "f", "Output format, text or json.")

	traceCommand := &cobra.Command{
		Use:   "trace pid [tid...]",
		Short: "Print the stack trace of threads of a process.",
		Long: `Print the stack trace of threads of a process.

Without thread ids the stack of every thread of the process is printed,
threads that can not be walked are reported without failing the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: traceCmd,
	}
	rootCommand.AddCommand(traceCommand)

	sweepCommand := &cobra.Command{
		Use:   "sweep pid [pid...]",
		Short: "Print the stack trace of every thread of several processes.",
		Long: `Print the stack trace of every thread of several processes.

Processes are walked in parallel, processes that can not be walked are
reported without failing the command.`,
		Args: cobra.MinimumNArgs(1),
		RunE: sweepCmd,
	}
	sweepCommand.Flags().IntVar(&concurrency, "concurrency", tracer.DefaultConcurrency, "Number of processes walked at the same time.")
	rootCommand.AddCommand(sweepCommand)

	modulesCommand := &cobra.Command{
		Use:   "modules pid [32|64|all]",
		Short: "List the modules loaded in a process.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  modulesCmd,
	}
	rootCommand.AddCommand(modulesCommand)

	threadsCommand := &cobra.Command{
		Use:   "threads pid",
		Short: "List the threads of a process.",
		Args:  cobra.ExactArgs(1),
		RunE:  threadsCmd,
	}
	rootCommand.AddCommand(threadsCommand)

	infoCommand := &cobra.Command{
		Use:   "info pid",
		Short: "Print architecture, PEB address, module and thread counts of a process.",
		Args:  cobra.ExactArgs(1),
		RunE:  infoCmd,
	}
	rootCommand.AddCommand(infoCommand)

	regsCommand := &cobra.Command{
		Use:   "regs pid tid",
		Short: "Print the register context of a thread.",
		Args:  cobra.ExactArgs(2),
		RunE:  regsCmd,
	}
	rootCommand.AddCommand(regsCommand)

	shellCommand := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell.",
		Long: `Start an interactive shell.

The shell keeps processes attached between commands, later walks of the
same process reuse its loaded modules and symbols.`,
		Args: cobra.NoArgs,
		RunE: shellCmd,
	}
	rootCommand.AddCommand(shellCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	walker		Log the steps of every stack walk
	native		Log calls to the operating system
	symbols		Log symbol loading, enables the dbghelp debug output
	tracer		Log attaching, detaching and abandoned walks

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pwalk\n%s\n", version.PwalkVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	if docCall {
		rootCommand.DisableAutoGenTag = true
	}
	return rootCommand
}

// loadConfig reads the configuration file and applies the flags set on
// the command line on top of it.
func loadConfig(cmd *cobra.Command) error {
	var err error
	if configFile != "" {
		conf, err = config.LoadConfigFile(configFile)
	} else {
		conf, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not load configuration: %v\n", err)
		conf = &config.Config{Aliases: make(map[string][]string)}
	}

	flags := cmd.Flags()
	if flags.Changed("max-frames") {
		conf.MaxFrames = &maxFrames
	}
	if flags.Changed("timeout") {
		conf.Timeout = timeout.String()
	}
	if flags.Changed("process-access") {
		conf.ProcessAccess = processAccess
	}
	if flags.Changed("thread-access") {
		conf.ThreadAccess = threadAccess
	}
	if flags.Changed("symbol-path") {
		conf.SymbolSearchPath = symbolPath
	}
	if flags.Changed("show-instruction") {
		conf.ShowInstruction = showInstruction
	}
	if flags.Changed("no-color") {
		conf.NoColor = noColor
	}
	return nil
}

// tracerConfig translates conf into the configuration of a tracer.
func tracerConfig(conf *config.Config) (tracer.Config, error) {
	pa, err := proc.ParseProcessAccess(conf.ProcessAccess)
	if err != nil {
		return tracer.Config{}, err
	}
	ta, err := proc.ParseThreadAccess(conf.ThreadAccess)
	if err != nil {
		return tracer.Config{}, err
	}
	flavour, err := proc.ParseAssemblyFlavour(conf.DisassembleFlavor)
	if err != nil {
		return tracer.Config{}, err
	}
	return tracer.Config{
		Walk: proc.Config{
			MaxFrames:        conf.GetMaxFrames(),
			ProcessAccess:    pa,
			ThreadAccess:     ta,
			SymbolSearchPath: conf.SymbolSearchPath,
			SymbolCacheSize:  conf.GetSymbolCacheSize(),
			ShowInstruction:  conf.ShowInstruction,
			Flavour:          flavour,
		},
		SessionCacheSize: conf.GetSessionCacheSize(),
		Concurrency:      concurrency,
	}, nil
}

// withService runs fn with a service configured from conf.
func withService(fn func(ctx context.Context, svc service, out *terminal.Printer) error) error {
	cfg, err := tracerConfig(conf)
	if err != nil {
		return err
	}
	d, err := conf.GetTimeout()
	if err != nil {
		return err
	}
	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx := context.Background()
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx, svc, newPrinter(conf))
}

func parseID(what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return n, nil
}

func parseIDs(what string, args []string) ([]int, error) {
	r := make([]int, 0, len(args))
	for _, arg := range args {
		id, err := parseID(what, arg)
		if err != nil {
			return nil, err
		}
		r = append(r, id)
	}
	return r, nil
}

func traceCmd(cmd *cobra.Command, args []string) error {
	pid, err := parseID("process", args[0])
	if err != nil {
		return err
	}
	tids, err := parseIDs("thread", args[1:])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		if len(tids) == 0 {
			traces, err := svc.TraceProcess(ctx, pid)
			if err != nil {
				return err
			}
			return out.ThreadTraces(pid, traces)
		}
		traces := make([]tracer.ThreadTrace, 0, len(tids))
		failed := 0
		for _, tid := range tids {
			st, err := svc.GetStackTrace(ctx, pid, tid)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failed++
			}
			traces = append(traces, tracer.ThreadTrace{Tid: tid, Trace: st, Err: err})
		}
		if len(tids) == 1 && failed == 1 {
			return traces[0].Err
		}
		return out.ThreadTraces(pid, traces)
	})
}

func sweepCmd(cmd *cobra.Command, args []string) error {
	pids, err := parseIDs("process", args)
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		traces, err := svc.TraceProcesses(ctx, pids)
		if err != nil {
			return err
		}
		return out.ProcessTraces(traces)
	})
}

func modulesCmd(cmd *cobra.Command, args []string) error {
	pid, err := parseID("process", args[0])
	if err != nil {
		return err
	}
	filter := proc.ModulesDefault
	if len(args) > 1 {
		filter, err = proc.ParseModuleFilter(args[1])
		if err != nil {
			return err
		}
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		mods, err := svc.Modules(pid, filter)
		if err != nil {
			return err
		}
		return out.Modules(mods)
	})
}

func threadsCmd(cmd *cobra.Command, args []string) error {
	pid, err := parseID("process", args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		tids, err := svc.Threads(pid)
		if err != nil {
			return err
		}
		return out.Threads(pid, tids)
	})
}

func infoCmd(cmd *cobra.Command, args []string) error {
	pid, err := parseID("process", args[0])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		info, err := svc.Info(pid)
		if err != nil {
			return err
		}
		return out.Info(info)
	})
}

func regsCmd(cmd *cobra.Command, args []string) error {
	pid, err := parseID("process", args[0])
	if err != nil {
		return err
	}
	tid, err := parseID("thread", args[1])
	if err != nil {
		return err
	}
	return withService(func(ctx context.Context, svc service, out *terminal.Printer) error {
		regs, err := svc.Registers(pid, tid)
		if err != nil {
			return err
		}
		return out.Registers(regs)
	})
}

func shellCmd(cmd *cobra.Command, args []string) error {
	cfg, err := tracerConfig(conf)
	if err != nil {
		return err
	}
	svc, err := openService(cfg)
	if err != nil {
		return err
	}
	// svc is replaced when the shell changes the walk settings.
	defer func() { svc.Close() }()

	term, err := terminal.New(svc, conf, newPrinter(conf))
	if err != nil {
		return err
	}
	term.Reconfigure = func(conf *config.Config) (terminal.Service, error) {
		cfg, err := tracerConfig(conf)
		if err != nil {
			return nil, err
		}
		nsvc, err := openService(cfg)
		if err != nil {
			return nil, err
		}
		svc.Close()
		svc = nsvc
		return svc, nil
	}
	status, err := term.Run()
	if err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("shell exited with status %d", status)
	}
	return nil
}
