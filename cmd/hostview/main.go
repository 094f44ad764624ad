package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

func main() {
	loadEnvFiles()

	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "windows":
		os.Exit(runWindows(os.Args[2:]))
	case "open":
		os.Exit(runOpen(os.Args[2:]))
	case "close":
		os.Exit(runClose(os.Args[2:]))
	case "show", "hide", "activate":
		os.Exit(runWindowAction(os.Args[1], os.Args[2:]))
	case "load":
		os.Exit(runLoad(os.Args[2:]))
	case "eval":
		os.Exit(runEval(os.Args[2:]))
	case "call":
		os.Exit(runCall(os.Args[2:]))
	case "emit":
		os.Exit(runEmit(os.Args[2:]))
	case "broadcast":
		os.Exit(runBroadcast(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: hostview <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the hostview daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  reload              Ask the daemon to re-read its config")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  windows             List open windows")
	fmt.Fprintln(w, "  open                Open a window from a preset")
	fmt.Fprintln(w, "  close               Close a window")
	fmt.Fprintln(w, "  show                Show a window")
	fmt.Fprintln(w, "  hide                Hide a window")
	fmt.Fprintln(w, "  activate            Make a window the active one")
	fmt.Fprintln(w, "  load                Replace a window's content")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  eval                Queue a script in a window")
	fmt.Fprintln(w, "  call                Call a bound method or capability")
	fmt.Fprintln(w, "  emit                Deliver an event to one window")
	fmt.Fprintln(w, "  broadcast           Deliver an event to every window")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "  config path         Print the config file location")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'hostview <command> --help' for command-specific options.")
}

// loadEnvFiles applies a .env file from the working directory and one next
// to the executable. Variables already set win.
func loadEnvFiles() {
	var paths []string
	if _, err := os.Stat(".env"); err == nil {
		paths = append(paths, ".env")
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), ".env")
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) > 0 {
		_ = godotenv.Load(paths...)
	}
}

// parseFlags parses args and maps flag.ErrHelp to exit status 0.
func parseFlags(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0, false
		}
		return 2, false
	}
	return 0, true
}
