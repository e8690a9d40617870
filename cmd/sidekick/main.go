// Command sidekick is the CLI host for the copilot pipeline: an interactive
// turn loop against a locally hosted model, plus subcommands for one-shot
// questions, archived sessions, transcripts, and secrets.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"sidekick/pkg/agent"
	"sidekick/pkg/config"
	"sidekick/pkg/dispatch"
	"sidekick/pkg/eventlog"
	"sidekick/pkg/exec"
	"sidekick/pkg/extract"
	"sidekick/pkg/intent"
	"sidekick/pkg/llm"
	"sidekick/pkg/llm/ollama"
	"sidekick/pkg/llm/openaicompat"
	"sidekick/pkg/memory"
	"sidekick/pkg/metrics"
	"sidekick/pkg/persistence"
	"sidekick/pkg/plan"
	"sidekick/pkg/proto"
	"sidekick/pkg/stream"
	"sidekick/pkg/templates"
	"sidekick/pkg/tokens"
	"sidekick/pkg/workspace"
)

// Version information - set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "ask":
			return runAsk(args[1:])
		case "sessions":
			return runSessions(args[1:])
		case "log":
			return runLog(args[1:])
		case "secrets":
			return runSecrets(args[1:])
		}
	}
	return runInteractive(args)
}

func runInteractive(args []string) int {
	fs := flag.NewFlagSet("sidekick", flag.ContinueOnError)
	var (
		dir         = fs.String("dir", ".", "Project directory")
		model       = fs.String("model", "", "Override the configured model")
		backend     = fs.String("backend", "", "Override the configured backend (ollama|openai)")
		dumpMetrics = fs.Bool("metrics", false, "Print metrics on exit")
		showVersion = fs.Bool("version", false, "Show version information")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("sidekick %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		return 0
	}

	host, err := newHost(*dir, *backend, *model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer host.close()

	// Ctrl-C cancels the active turn; a second one while idle exits.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range interrupts {
			if !host.copilot.CancelActive() {
				fmt.Fprintln(os.Stderr, "\nnothing to cancel; /quit to exit")
			}
		}
	}()

	fmt.Printf("sidekick %s — %s via %s (type /help)\n", version, host.cfg.Model(), host.cfg.Backend)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := host.command(line); quit {
				break
			}
			continue
		}
		host.turn(line)
	}

	if *dumpMetrics {
		if err := host.rec.Snapshot(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "metrics snapshot failed: %v\n", err)
		}
	}
	return 0
}

// host bundles the wired copilot with everything the loop needs.
type host struct {
	cfg     config.Config
	copilot *agent.Copilot
	rec     *metrics.Recorder
	editor  *workspace.Headless
	files   *workspace.Local
	store   *persistence.Store
	log     *eventlog.Writer
}

func newHost(projectDir, backendOverride, modelOverride string) (*host, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	if backendOverride != "" {
		cfg.Backend = config.Backend(backendOverride)
	}
	if modelOverride != "" {
		cfg.Ollama.Model = modelOverride
		cfg.OpenAI.Model = modelOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root := cfg.Workspace.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(projectDir, root)
	}
	files, err := workspace.NewLocal(root)
	if err != nil {
		return nil, err
	}
	editor := workspace.NewHeadless(files)

	client, err := buildClient(projectDir, cfg)
	if err != nil {
		return nil, err
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder()
	streams := stream.NewManager(rec)

	counter, err := tokens.NewCounter()
	if err != nil {
		// The counter falls back to estimation internally; a hard failure
		// here just means prompts are budgeted by chars.
		counter = nil
	}

	store, err := persistence.Open(filepath.Join(projectDir, config.DirName, "sidekick.db"))
	if err != nil {
		return nil, err
	}

	transcript, err := eventlog.NewWriter(filepath.Join(projectDir, config.DirName, "logs"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	dispatcher, err := dispatch.NewDispatcher(dispatch.Deps{
		Client:    client,
		Renderer:  renderer,
		Streams:   streams,
		Extractor: extract.NewExtractor(rec),
		FS:        files,
		Editor:    editor,
		Runner:    exec.NewRunner(cfg.Workspace.Shell),
		Tokens:    counter,
		Recorder:  rec,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	ledger := memory.NewLedger(store, counter, memory.Limits{
		SummaryTurns:        cfg.Limits.SummaryTurns,
		SummaryMessageChars: cfg.Limits.SummaryMessageChars,
	})

	copilot, err := agent.New(agent.Deps{
		Client:     client,
		Streams:    streams,
		Classifier: intent.NewClassifier(client, renderer, rec),
		Planner:    plan.NewPlanner(client, renderer, rec),
		Dispatcher: dispatcher,
		Ledger:     ledger,
		Editor:     editor,
		Transcript: transcript,
		Store:      store,
		Recorder:   rec,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	copilot.SetWorkspace(root, cfg.Workspace.Shell)

	return &host{
		cfg:     cfg,
		copilot: copilot,
		rec:     rec,
		editor:  editor,
		files:   files,
		store:   store,
		log:     transcript,
	}, nil
}

// buildClient constructs the configured backend.
func buildClient(projectDir string, cfg config.Config) (llm.Client, error) {
	if cfg.Backend == config.BackendOpenAI {
		apiKey := ""
		if config.SecretsExist(projectDir) {
			pass, err := config.Passphrase("Secrets passphrase: ")
			if err != nil {
				return nil, err
			}
			secrets, err := config.DecryptSecrets(projectDir, pass)
			if err != nil {
				return nil, err
			}
			if v, err := config.Secret(secrets, "OPENAI_API_KEY"); err == nil {
				apiKey = v
			}
		}
		client, err := openaicompat.New(cfg.OpenAI.BaseURL, apiKey, cfg.OpenAI.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	client, err := ollama.New(cfg.Ollama.Host, cfg.Ollama.Model)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (h *host) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.copilot.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if err := h.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}

// turn runs one user message, streaming the reply as it arrives.
func (h *host) turn(message string) {
	streaming := false
	events := agent.Events{
		OnStream: func(_ string, ev llm.StreamEvent) {
			if ev.Kind == llm.EventChunk {
				streaming = true
				fmt.Print(ev.Text)
			}
		},
		OnTask: func(task plan.Task) {
			if task.Status == proto.TaskInProgress {
				fmt.Printf("\n[%s] %s\n", task.Tool, task.Content)
			}
		},
		OnNotice: func(msg string) {
			fmt.Printf("\n%s\n", msg)
		},
	}

	response, err := h.copilot.HandleMessage(context.Background(), message, events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if streaming {
		fmt.Println()
	} else if response != "" {
		fmt.Println(response)
	}
}

// command handles slash commands; returns true to exit the loop.
func (h *host) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(`commands:
  /open <file>                open a file in the headless editor
  /sel <file> <start> <end>   select a line range of a file
  /attach <file> [start end]  attach a file or line range as a chunk
  /chunks                     list attached chunks
  /detach                     drop all attached chunks
  /todos                      show the active plan
  /reset                      archive this session and start fresh
  /quit                       exit`)

	case "/open":
		if len(fields) != 2 {
			fmt.Println("usage: /open <file>")
			break
		}
		if err := h.editor.Open(fields[1]); err != nil {
			fmt.Printf("open failed: %v\n", err)
			break
		}
		fmt.Printf("opened %s\n", fields[1])

	case "/sel":
		if len(fields) != 4 {
			fmt.Println("usage: /sel <file> <start> <end>")
			break
		}
		start, err1 := strconv.Atoi(fields[2])
		end, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			fmt.Println("usage: /sel <file> <start> <end>")
			break
		}
		if err := h.editor.Open(fields[1]); err != nil {
			fmt.Printf("open failed: %v\n", err)
			break
		}
		if err := h.editor.SelectLines(start, end); err != nil {
			fmt.Printf("select failed: %v\n", err)
			break
		}
		fmt.Printf("selected %s lines %d-%d\n", fields[1], start, end)

	case "/attach":
		if len(fields) != 2 && len(fields) != 4 {
			fmt.Println("usage: /attach <file> [start end]")
			break
		}
		h.attach(fields[1:])

	case "/chunks":
		all := h.copilot.Chunks().All()
		if len(all) == 0 {
			fmt.Println("no chunks attached")
			break
		}
		for i, c := range all {
			marker := ""
			if c.Modified {
				marker = " (modified)"
			}
			fmt.Printf("%d: %s%s\n", i+1, c.Label(), marker)
		}

	case "/detach":
		h.copilot.Chunks().Clear()
		fmt.Println("chunks cleared")

	case "/todos":
		snap, ok := h.copilot.PlanSnapshot()
		if !ok {
			fmt.Println("no active plan")
			break
		}
		for i, task := range snap.Tasks {
			fmt.Printf("%d. [%s] %s\n", i+1, task.Status, task.Content)
		}

	case "/reset":
		if err := h.copilot.ResetSession(context.Background()); err != nil {
			fmt.Printf("reset failed: %v\n", err)
			break
		}
		fmt.Println("session archived; starting fresh")

	default:
		fmt.Printf("unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (h *host) attach(args []string) {
	path := args[0]
	content, err := h.files.ReadFile(path)
	if err != nil {
		fmt.Printf("read failed: %v\n", err)
		return
	}

	start, end := 1, strings.Count(content, "\n")+1
	if len(args) == 3 {
		s, err1 := strconv.Atoi(args[1])
		e, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			fmt.Println("usage: /attach <file> [start end]")
			return
		}
		lines := strings.Split(content, "\n")
		if s < 1 || e > len(lines) || s > e {
			fmt.Printf("range %d-%d is outside %s (%d lines)\n", s, e, path, len(lines))
			return
		}
		start, end = s, e
		content = strings.Join(lines[s-1:e], "\n")
	}

	chunk, ordinal, err := h.copilot.Chunks().AddRegion(path, start, end, content)
	if err != nil {
		fmt.Printf("attach failed: %v\n", err)
		return
	}
	fmt.Printf("attached chunk %d: %s\n", ordinal, chunk.Label())
}

func runAsk(args []string) int {
	fs := flag.NewFlagSet("sidekick ask", flag.ContinueOnError)
	dir := fs.String("dir", ".", "Project directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: sidekick ask [-dir root] \"message\"")
		return 2
	}

	host, err := newHost(*dir, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return 1
	}
	defer host.close()

	host.turn(fs.Arg(0))
	return 0
}

func runSessions(args []string) int {
	fs := flag.NewFlagSet("sidekick sessions", flag.ContinueOnError)
	dir := fs.String("dir", ".", "Project directory")
	limit := fs.Int("n", 10, "Number of sessions to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, err := persistence.Open(filepath.Join(*dir, config.DirName, "sidekick.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		return 1
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list sessions: %v\n", err)
		return 1
	}
	if len(sessions) == 0 {
		fmt.Println("no archived sessions")
		return 0
	}
	for _, s := range sessions {
		fmt.Printf("%s  started %s  archived %s  (%d bytes)\n",
			s.SessionID,
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.ArchivedAt.Local().Format("2006-01-02 15:04"),
			len(s.Document))
	}
	return 0
}

func runLog(args []string) int {
	fs := flag.NewFlagSet("sidekick log", flag.ContinueOnError)
	dir := fs.String("dir", ".", "Project directory")
	day := fs.String("date", time.Now().Format("2006-01-02"), "Transcript date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	path := filepath.Join(*dir, config.DirName, "logs", fmt.Sprintf("transcript-%s.jsonl", *day))
	records, err := eventlog.Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read transcript: %v\n", err)
		return 1
	}
	for _, rec := range records {
		var fields []string
		for k, v := range rec.Fields {
			fields = append(fields, fmt.Sprintf("%s=%s", k, v))
		}
		fmt.Printf("%s  %-8s %s\n", rec.Time.Local().Format("15:04:05"), rec.Kind, strings.Join(fields, " "))
	}
	return 0
}

func runSecrets(args []string) int {
	fs := flag.NewFlagSet("sidekick secrets", flag.ContinueOnError)
	dir := fs.String("dir", ".", "Project directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "usage: sidekick secrets [-dir root] set|unset <name>")
		return 2
	}
	action, name := fs.Arg(0), fs.Arg(1)

	pass, err := config.Passphrase("Secrets passphrase: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	secrets := map[string]string{}
	if config.SecretsExist(*dir) {
		secrets, err = config.DecryptSecrets(*dir, pass)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
	}

	switch action {
	case "set":
		fmt.Fprintf(os.Stderr, "Value for %s: ", name)
		reader := bufio.NewReader(os.Stdin)
		value, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		secrets[name] = strings.TrimSpace(value)
	case "unset":
		delete(secrets, name)
	default:
		fmt.Fprintf(os.Stderr, "unknown action %q (set or unset)\n", action)
		return 2
	}

	if err := config.EncryptSecrets(*dir, pass, secrets); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("secrets updated (%d stored)\n", len(secrets))
	return 0
}
