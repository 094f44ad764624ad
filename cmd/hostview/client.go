package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/1broseidon/hostview/internal/ipc"
)

func newFlagSet(name, usage string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	socket := fs.String("socket", "", "IPC socket path (default: $XDG_RUNTIME_DIR/hostview.sock)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: hostview "+usage)
		fmt.Fprintln(os.Stderr, "")
		fs.PrintDefaults()
	}
	return fs, socket
}

// parsePayload validates a JSON argument. Empty means no payload.
func parsePayload(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("payload is not valid JSON: %s", s)
	}
	return json.RawMessage(s), nil
}

// readSource returns s, or stdin when s is "-".
func readSource(s string) (string, error) {
	if s != "-" {
		return s, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func runStatus(args []string) int {
	fs, socket := newFlagSet("status", "status [--socket PATH]")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	client := ipc.NewClient(*socket)
	status, err := client.GetStatus()
	if err != nil {
		return fail(err)
	}
	fmt.Printf("daemon_running: %v\n", status.DaemonRunning)
	fmt.Printf("platform:       %s\n", status.Platform)
	fmt.Printf("window_count:   %d\n", status.WindowCount)
	fmt.Printf("active_window:  %s\n", status.ActiveWindow)
	fmt.Printf("pending_calls:  %d\n", status.PendingCalls)
	fmt.Printf("uptime_seconds: %d\n", status.UptimeSeconds)
	fmt.Printf("socket_path:    %s\n", status.SocketPath)
	return 0
}

func runWindows(args []string) int {
	fs, socket := newFlagSet("windows", "windows [--json] [--socket PATH]")
	asJSON := fs.Bool("json", false, "Print JSON (default when stdout is not a terminal)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	windows, err := ipc.NewClient(*socket).ListWindows()
	if err != nil {
		return fail(err)
	}
	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(windows); err != nil {
			return fail(err)
		}
		return 0
	}
	printWindowTable(os.Stdout, windows)
	return 0
}

func printWindowTable(w io.Writer, windows []ipc.WindowInfo) {
	if len(windows) == 0 {
		fmt.Fprintln(w, "no windows")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATE\tPRESENTATION\tVISIBLE\tPENDING\tTITLE")
	for _, win := range windows {
		id := win.ID
		if win.Active {
			id = "*" + id
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%d\t%s\n",
			id, win.Mode, win.State, win.Presentation, win.Visible, win.PendingCalls, win.Title)
	}
	tw.Flush()
}

func runOpen(args []string) int {
	fs, socket := newFlagSet("open", "open [--preset NAME] [--id ID] [--title T] [--html HTML|-] [--url URL] [--hidden]")
	preset := fs.String("preset", "", "Window preset (default: config default_window)")
	id := fs.String("id", "", "Window id (default: generated)")
	title := fs.String("title", "", "Window title")
	html := fs.String("html", "", "Inline HTML, or - to read from stdin")
	url := fs.String("url", "", "URL to load")
	hidden := fs.Bool("hidden", false, "Do not show the window")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if *html != "" && *url != "" {
		fmt.Fprintln(os.Stderr, "--html and --url are mutually exclusive")
		return 2
	}
	markup, err := readSource(*html)
	if err != nil {
		return fail(err)
	}

	uid, err := ipc.NewClient(*socket).OpenWindow(ipc.OpenWindowPayload{
		Preset: *preset,
		ID:     *id,
		Title:  *title,
		HTML:   markup,
		URL:    *url,
		Hidden: *hidden,
	})
	if err != nil {
		return fail(err)
	}
	fmt.Println(uid)
	return 0
}

func runClose(args []string) int {
	fs, socket := newFlagSet("close", "close [--socket PATH] [window]")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if err := ipc.NewClient(*socket).CloseWindow(fs.Arg(0)); err != nil {
		return fail(err)
	}
	return 0
}

func runWindowAction(action string, args []string) int {
	fs, socket := newFlagSet(action, action+" [--socket PATH] [window]")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	client := ipc.NewClient(*socket)
	var err error
	switch action {
	case "show":
		err = client.ShowWindow(fs.Arg(0))
	case "hide":
		err = client.HideWindow(fs.Arg(0))
	case "activate":
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "activate requires <window>")
			return 2
		}
		err = client.SetActive(fs.Arg(0))
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

func runLoad(args []string) int {
	fs, socket := newFlagSet("load", "load [--window ID] (--html HTML|- | --url URL)")
	window := fs.String("window", "", "Window id (default: active window)")
	html := fs.String("html", "", "Inline HTML, or - to read from stdin")
	url := fs.String("url", "", "URL to load")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if (*html == "") == (*url == "") {
		fmt.Fprintln(os.Stderr, "load requires exactly one of --html or --url")
		return 2
	}
	markup, err := readSource(*html)
	if err != nil {
		return fail(err)
	}
	if err := ipc.NewClient(*socket).LoadContent(ipc.LoadContentPayload{Window: *window, HTML: markup, URL: *url}); err != nil {
		return fail(err)
	}
	return 0
}

func runEval(args []string) int {
	fs, socket := newFlagSet("eval", "eval [--window ID] <script|->")
	window := fs.String("window", "", "Window id (default: active window)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "eval requires <script>")
		return 2
	}
	script, err := readSource(fs.Arg(0))
	if err != nil {
		return fail(err)
	}
	if err := ipc.NewClient(*socket).ExecuteScript(*window, script); err != nil {
		return fail(err)
	}
	return 0
}

func runCall(args []string) int {
	fs, socket := newFlagSet("call", "call [--window ID] [--timeout DUR] <target> [json]")
	window := fs.String("window", "", "Window id (default: active window)")
	timeout := fs.Duration("timeout", 0, "Call timeout (default: the window's call timeout)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "call requires <target> [json]")
		return 2
	}
	payload, err := parsePayload(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	client := ipc.NewClient(*socket)
	result, err := client.Call(*window, fs.Arg(0), payload, *timeout)
	if err != nil {
		return fail(err)
	}
	if len(result) == 0 {
		fmt.Println("null")
		return 0
	}
	fmt.Println(string(result))
	return 0
}

func runEmit(args []string) int {
	fs, socket := newFlagSet("emit", "emit [--window ID] <name> [json]")
	window := fs.String("window", "", "Window id (default: active window)")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "emit requires <name> [json]")
		return 2
	}
	payload, err := parsePayload(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := ipc.NewClient(*socket).Emit(*window, fs.Arg(0), payload); err != nil {
		return fail(err)
	}
	return 0
}

func runBroadcast(args []string) int {
	fs, socket := newFlagSet("broadcast", "broadcast [--exclude ID,...] <name> [json]")
	exclude := fs.String("exclude", "", "Comma separated window ids to skip")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "broadcast requires <name> [json]")
		return 2
	}
	payload, err := parsePayload(fs.Arg(1))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	n, err := ipc.NewClient(*socket).Broadcast(fs.Arg(0), payload, splitList(*exclude)...)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("delivered: %d\n", n)
	return 0
}

func runReload(args []string) int {
	fs, socket := newFlagSet("reload", "reload [--socket PATH]")
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}
	client := ipc.NewClient(*socket)
	client.SetTimeout(10 * time.Second)
	if err := client.ReloadConfig(); err != nil {
		return fail(err)
	}
	fmt.Println("config: reloaded")
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
