package coordcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// Run is coordctl's entry point. Returns an exit code.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env []string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("coordctl", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagDir := globalFlags.StringP("dir", "C", "", "Run as if started in `dir`")
	flagConfig := globalFlags.StringP("config", "c", "", "Use specified config `file`")

	if err := globalFlags.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	workDir := *flagDir
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fprintln(errOut, "error:", err)
			return 1
		}
		workDir = cwd
	}

	g := globalOptions{workDir: workDir, configPath: *flagConfig, env: env}
	commands := []*Command{StatusCmd(g), HealthCmd(g)}

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(out, commands)
		return 0
	}

	cmdName := commandAndArgs[0]
	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)
		return 1
	}

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(errOut, "shutting down...")
		cancel()
	}

	select {
	case <-done:
		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "forced exit (130)")
		return 130
	}
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "coordctl: inspect a coord file-coordination engine's configuration and persisted state")
	fprintln(w)
	fprintln(w, "Usage: coordctl [global flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Commands:")
	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, "  -C, --dir <dir>        Run as if started in dir")
	fprintln(w, "  -c, --config <file>    Use specified config file")
	fprintln(w, "  -h, --help             Show help")
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}
