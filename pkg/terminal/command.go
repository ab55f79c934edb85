package terminal

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/powerwalker/pwalk/pkg/proc"
)

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the pwalk shell.
type Commands struct {
	cmds        []command
	completions *trie.Trie
}

// ExitRequestError is returned by the exit command.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

// DefaultCommands returns a Commands struct with default commands defined.
func DefaultCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"trace", "bt", "stack"}, cmdFn: traceCmd, helpMsg: `Print the stack trace of threads of a process.

	trace <pid> [tid...]

Without thread ids every thread of the process is walked.`},
		{aliases: []string{"modules", "mods"}, cmdFn: modulesCmd, helpMsg: `List the modules loaded in a process.

	modules <pid> [32|64|all]

The optional argument selects modules by bitness, by default the modules
of the bitness of the process are listed.`},
		{aliases: []string{"threads"}, cmdFn: threadsCmd, helpMsg: `List the threads of a process.

	threads <pid>`},
		{aliases: []string{"info"}, cmdFn: infoCmd, helpMsg: `Print architecture, PEB address, module and thread counts of a process.

	info <pid>`},
		{aliases: []string{"regs"}, cmdFn: regsCmd, helpMsg: `Print the register context of a thread.

	regs <pid> <tid>`},
		{aliases: []string{"reload"}, cmdFn: reloadCmd, helpMsg: `Register the modules a process loaded since it was last walked.

	reload <pid>`},
		{aliases: []string{"examinemem", "x"}, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory of a process.

	examinemem [-fmt <format>] [-count|-len <count>] [-size <size>] <pid> <address>

Format represents the data format and the value is one of this list (default hex): bin(binary), oct(octal), dec(decimal), hex(hexadecimal).
Length is the number of values to print (default 1), size is the size of each value in bytes (default 1, at most 8).

For example:

    x -fmt hex -count 20 -size 1 1200 0x7ff600001000`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the shell."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.buildCompletions()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

func (c *Commands) buildCompletions() {
	c.completions = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.completions.Add(alias, nil)
		}
	}
}

// Complete returns the command names and aliases starting with line.
func (c *Commands) Complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	r := c.completions.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.completions.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call splits cmdstr into words, shell style, and executes the command
// named by the first one.
func (c *Commands) Call(cmdstr string, t *Term) error {
	words, err := splitCommandLine(cmdstr)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	return c.Find(words[0])(t, words[1:])
}

func splitCommandLine(cmdstr string) ([]string, error) {
	if strings.TrimSpace(cmdstr) == "" {
		return nil, nil
	}
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", cmdstr)
	}
	return v[0], nil
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.buildCompletions()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args []string) error {
	return errNoCmd
}

func nullCommand(t *Term, args []string) error {
	return nil
}

func exitCommand(t *Term, args []string) error {
	if len(args) > 0 {
		return errors.New("too many arguments to exit")
	}
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		for _, cmd := range c.cmds {
			if cmd.match(args[0]) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func parseID(what, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", what, s)
	}
	return n, nil
}

func parsePid(cmdname string, args []string, min, max int) (int, error) {
	if len(args) < min || len(args) > max {
		return 0, fmt.Errorf("wrong number of arguments to %s", cmdname)
	}
	return parseID("process", args[0])
}

func traceCmd(t *Term, args []string) error {
	pid, err := parsePid("trace", args, 1, 1<<16)
	if err != nil {
		return err
	}
	ctx, cancel := t.context()
	defer cancel()
	if len(args) == 1 {
		traces, err := t.svc.TraceProcess(ctx, pid)
		if err != nil {
			return err
		}
		return t.out.ThreadTraces(pid, traces)
	}
	for _, arg := range args[1:] {
		tid, err := parseID("thread", arg)
		if err != nil {
			return err
		}
		st, err := t.svc.GetStackTrace(ctx, pid, tid)
		if err != nil {
			return err
		}
		if err := t.out.StackTrace(st); err != nil {
			return err
		}
	}
	return nil
}

func modulesCmd(t *Term, args []string) error {
	pid, err := parsePid("modules", args, 1, 2)
	if err != nil {
		return err
	}
	filter := proc.ModulesDefault
	if len(args) == 2 {
		filter, err = proc.ParseModuleFilter(args[1])
		if err != nil {
			return err
		}
	}
	mods, err := t.svc.Modules(pid, filter)
	if err != nil {
		return err
	}
	return t.out.Modules(mods)
}

func threadsCmd(t *Term, args []string) error {
	pid, err := parsePid("threads", args, 1, 1)
	if err != nil {
		return err
	}
	tids, err := t.svc.Threads(pid)
	if err != nil {
		return err
	}
	return t.out.Threads(pid, tids)
}

func infoCmd(t *Term, args []string) error {
	pid, err := parsePid("info", args, 1, 1)
	if err != nil {
		return err
	}
	info, err := t.svc.Info(pid)
	if err != nil {
		return err
	}
	return t.out.Info(info)
}

func regsCmd(t *Term, args []string) error {
	pid, err := parsePid("regs", args, 2, 2)
	if err != nil {
		return err
	}
	tid, err := parseID("thread", args[1])
	if err != nil {
		return err
	}
	regs, err := t.svc.Registers(pid, tid)
	if err != nil {
		return err
	}
	return t.out.Registers(regs)
}

func reloadCmd(t *Term, args []string) error {
	pid, err := parsePid("reload", args, 1, 1)
	if err != nil {
		return err
	}
	n, err := t.svc.Reload(pid)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%d new modules\n", n)
	return nil
}

const maxExamineMemory = 1000

func examineMemoryCmd(t *Term, v []string) error {
	var (
		pid     int
		address uint64
		err     error
		ok      bool
	)

	// Default value
	priFmt := byte('x')
	count := 1
	size := 1

	var pos []string
	for i := 0; i < len(v); i++ {
		switch v[i] {
		case "-fmt":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -fmt")
			}
			fmtMapToPriFmt := map[string]byte{
				"oct":         'o',
				"octal":       'o',
				"hex":         'x',
				"hexadecimal": 'x',
				"dec":         'd',
				"decimal":     'd',
				"bin":         'b',
				"binary":      'b',
			}
			priFmt, ok = fmtMapToPriFmt[v[i]]
			if !ok {
				return fmt.Errorf("%q is not a valid format", v[i])
			}
		case "-count", "-len":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -count/-len")
			}
			count, err = strconv.Atoi(v[i])
			if err != nil || count <= 0 {
				return fmt.Errorf("count/len must be a positive integer")
			}
		case "-size":
			i++
			if i >= len(v) {
				return fmt.Errorf("expected argument after -size")
			}
			size, err = strconv.Atoi(v[i])
			if err != nil || size <= 0 || size > 8 {
				return fmt.Errorf("size must be a positive integer (<=8)")
			}
		default:
			if strings.HasPrefix(v[i], "-") {
				return fmt.Errorf("unknown option %q", v[i])
			}
			pos = append(pos, v[i])
		}
	}

	if len(pos) != 2 {
		return fmt.Errorf("wrong number of arguments to examinemem")
	}
	pid, err = parseID("process", pos[0])
	if err != nil {
		return err
	}
	address, err = strconv.ParseUint(pos[1], 0, 64)
	if err != nil {
		return fmt.Errorf("convert address into uint64 type failed, %s", err)
	}

	if count*size > maxExamineMemory {
		return fmt.Errorf("read memory range (count*size) must be less than or equal to %d bytes", maxExamineMemory)
	}

	if address == 0 {
		return fmt.Errorf("no address specified")
	}

	memArea, err := t.svc.ReadMemory(pid, address, count*size)
	if err != nil {
		return err
	}
	return t.out.Memory(address, memArea, priFmt, size)
}
