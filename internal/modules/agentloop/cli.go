package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/morezero/plugin-host/pkg/service"
	"github.com/morezero/plugin-host/pkg/value"
)

const (
	defaultMaxIterations = 50
	runUsage             = "run <task> [--max-iterations <n>] [--yes]"
)

// Command describes one CLI command.
type Command struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Usage       string `json:"usage"`
}

var commands = []Command{
	{Name: "run", Description: "Run agent with a task", Usage: runUsage},
	{Name: "config", Description: "Manage configuration", Usage: "config [show|set <key> <value>]"},
	{Name: "tools", Description: "List available tools", Usage: "tools [list]"},
}

const helpText = "ADI Agent Loop - Autonomous LLM agent with tool execution\n\n" +
	"Commands:\n" +
	"  run      Run agent with a task\n" +
	"  config   Manage configuration\n" +
	"  tools    List available tools\n\n" +
	"Usage: adi run adi.agent-loop <command> [args]"

// configEntries is the configuration shown by "config show".
var configEntries = []value.Member{
	value.Pair("model", value.String("claude-sonnet-4-20250514")),
	value.Pair("max_iterations", value.Int(defaultMaxIterations)),
	value.Pair("max_tokens", value.Int(100000)),
	value.Pair("timeout_ms", value.Int(120000)),
}

func newCLITable(tools *Toolset) *service.Methods {
	cli := &cli{tools: tools}
	return service.NewMethods().
		HandleFunc("run_command", "Run a CLI command", cli.runCommand).
		HandleFunc("list_commands", "List available commands", cli.listCommands)
}

type cli struct {
	tools *Toolset
}

func (c *cli) listCommands(_ context.Context, _ value.Value) (value.Value, error) {
	return value.FromInterface(commands)
}

// runCommand takes a context object {"args": [...]} whose first element is
// the subcommand. Non-string args are ignored.
func (c *cli) runCommand(_ context.Context, ctxArg value.Value) (value.Value, error) {
	inv := parseInvocation(commandArgs(ctxArg))

	var (
		out string
		err error
	)
	switch inv.subcommand {
	case "run":
		out, err = cmdRun(inv)
	case "config":
		out, err = cmdConfig(inv.positional)
	case "tools":
		out, err = c.cmdTools(inv.positional)
	case "":
		out = helpText
	default:
		err = fmt.Errorf("Unknown command: %s", inv.subcommand)
	}
	if err != nil {
		return value.Null(), err
	}
	return value.String(out), nil
}

func commandArgs(ctxArg value.Value) []string {
	list, ok := ctxArg.Get("args")
	if !ok {
		return nil
	}
	var args []string
	for _, item := range list.Items() {
		if item.Kind() == value.KindString {
			args = append(args, item.AsString())
		}
	}
	return args
}

// invocation is a parsed command line. Options are "--key value" pairs; an
// option not followed by a value is true. Positionals are every argument
// after the subcommand that does not start with "--", option values
// included.
type invocation struct {
	subcommand string
	positional []string
	options    map[string]optionValue
}

type optionValue struct {
	text string
	flag bool
}

func parseInvocation(args []string) invocation {
	inv := invocation{options: make(map[string]optionValue)}
	if len(args) == 0 {
		return inv
	}
	inv.subcommand = args[0]
	rest := args[1:]

	for i := 0; i < len(rest); {
		if !strings.HasPrefix(rest[i], "--") {
			i++
			continue
		}
		key := rest[i]
		for strings.HasPrefix(key, "--") {
			key = key[2:]
		}
		if i+1 < len(rest) && !strings.HasPrefix(rest[i+1], "--") {
			inv.options[key] = optionValue{text: rest[i+1]}
			i += 2
		} else {
			inv.options[key] = optionValue{flag: true}
			i++
		}
	}

	for _, arg := range rest {
		if !strings.HasPrefix(arg, "--") {
			inv.positional = append(inv.positional, arg)
		}
	}
	return inv
}

func cmdRun(inv invocation) (string, error) {
	if len(inv.positional) == 0 {
		return "", fmt.Errorf("Missing task. Usage: %s", runUsage)
	}

	task := inv.positional[0]
	maxIterations := uint64(defaultMaxIterations)
	if opt, ok := inv.options["max-iterations"]; ok && !opt.flag {
		if n, err := strconv.ParseUint(opt.text, 10, 64); err == nil {
			maxIterations = n
		}
	}
	autoApprove := inv.options["yes"].flag

	var b strings.Builder
	fmt.Fprintf(&b, "Agent Task: %s\n", task)
	fmt.Fprintf(&b, "Max Iterations: %d\n", maxIterations)
	fmt.Fprintf(&b, "Auto-approve: %t\n\n", autoApprove)
	b.WriteString("Note: Full agent execution requires LLM provider configuration.\n")
	b.WriteString("Configure your LLM provider in ~/.config/adi/agent.toml")
	return b.String(), nil
}

func cmdConfig(args []string) (string, error) {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "show":
		return configText(), nil
	case "set":
		if len(args) < 3 {
			return "", errors.New("Usage: config set <key> <value>")
		}
		return fmt.Sprintf("Set %s = %s", args[1], args[2]), nil
	default:
		return "", fmt.Errorf("Unknown config subcommand: %s. Use 'show' or 'set'", sub)
	}
}

func configText() string {
	var b strings.Builder
	b.WriteString("Current configuration:\n\n")
	for _, entry := range configEntries {
		text := entry.Value.AsString()
		if entry.Value.Kind() == value.KindNumber {
			text = entry.Value.Literal()
		}
		fmt.Fprintf(&b, "  %s: %s\n", entry.Key, text)
	}
	return strings.TrimRight(b.String(), " \t\r\n")
}

func (c *cli) cmdTools(args []string) (string, error) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	if sub != "list" {
		return "", fmt.Errorf("Unknown tools subcommand: %s. Use 'list'", sub)
	}

	var b strings.Builder
	b.WriteString("Available tools:\n\n")
	if c.tools.Len() == 0 {
		b.WriteString("  (No tools registered - add tools via configuration)\n\n")
	} else {
		for _, t := range c.tools.List() {
			fmt.Fprintf(&b, "  %-12s %s\n", t.Name, t.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("To add tools, edit ~/.config/adi/agent.toml:\n\n")
	b.WriteString("  [[tools]]\n")
	b.WriteString("  name = \"my_tool\"\n")
	b.WriteString("  command = \"my-command\"\n")
	return strings.TrimRight(b.String(), " \t\r\n"), nil
}
