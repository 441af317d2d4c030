package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"rejoin/internal/chat"
	"rejoin/internal/llm"
	"rejoin/internal/observability"
	"rejoin/internal/policy"
	"rejoin/internal/session"
)

// Options configures the REPL around its injected collaborators.
type Options struct {
	Model          string
	RequestTimeout time.Duration
	Plain          bool

	Input  io.Reader
	Output io.Writer

	// Interrupts delivers SIGINT; one signal cancels an in-flight request.
	Interrupts <-chan os.Signal

	Logger *slog.Logger
}

// REPL is the interactive prompt loop. It is the only writer to stdout;
// diagnostics go through the logger on stderr so the chat surface stays
// clean.
type REPL struct {
	engine *session.Engine
	client llm.Client
	window *observability.StageWindow

	model      string
	timeout    time.Duration
	in         io.Reader
	out        io.Writer
	interrupts <-chan os.Signal
	logger     *slog.Logger

	styles   styles
	markdown bool

	searchEnabled bool
}

func New(engine *session.Engine, client llm.Client, window *observability.StageWindow, opts Options) *REPL {
	in := opts.Input
	if in == nil {
		in = os.Stdin
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	markdown := false
	if !opts.Plain {
		if f, ok := out.(*os.File); ok {
			markdown = term.IsTerminal(int(f.Fd()))
		}
	}

	return &REPL{
		engine:     engine,
		client:     client,
		window:     window,
		model:      opts.Model,
		timeout:    timeout,
		in:         in,
		out:        out,
		interrupts: opts.Interrupts,
		logger:     logger,
		styles:     newStyles(opts.Plain),
		markdown:   markdown,
	}
}

// Continue performs a startup resolve before the first prompt. index 0 means
// "latest".
func (r *REPL) Continue(ctx context.Context, index int) {
	sel := session.ResumeLatest()
	if index > 0 {
		sel = session.ResumeIndex(index)
	}
	r.resolve(ctx, sel)
}

// Run reads lines until EOF or an exit command. It always returns nil on a
// clean quit; the process exits 0.
func (r *REPL) Run(ctx context.Context) error {
	r.printNotice("rejoin: type a message, or 'help' for commands")

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(r.out, r.styles.prompt.Render("> ")+" ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(r.out)
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.recordCommand(line)

		if cmd, ok := ParseCommand(line); ok {
			if quit := r.dispatch(ctx, cmd); quit {
				return nil
			}
			continue
		}
		r.sendPrompt(ctx, line)
	}
}

func (r *REPL) dispatch(ctx context.Context, cmd Command) (quit bool) {
	switch cmd.Name {
	case "exit", "quit":
		r.printNotice("bye")
		return true
	case "continue":
		n, ok := continueIndex(cmd.Args)
		if !ok {
			r.printWarn("continue expects a positive index, got %q", cmd.Args[0])
			return false
		}
		sel := session.ResumeLatest()
		if n > 0 {
			sel = session.ResumeIndex(n)
		}
		r.resolve(ctx, sel)
	case "new":
		id, err := r.engine.Begin("")
		if err != nil {
			r.reportEngineErr(err)
			return false
		}
		r.printNotice("started %s", id)
	case "history":
		all := len(cmd.Args) > 0 && (cmd.Args[0] == "--all" || cmd.Args[0] == "all")
		if all {
			r.renderHistory(r.engine.HistoryAll(), true)
		} else {
			r.renderHistory(r.engine.History(r.engine.State().CurrentConversationID), false)
		}
	case "search":
		r.searchEnabled = !r.searchEnabled
		if r.searchEnabled {
			r.printNotice("web search on")
		} else {
			r.printNotice("web search off")
		}
	case "debug":
		r.renderDebug()
	case "help":
		r.printHelp()
	}
	return false
}

func (r *REPL) resolve(ctx context.Context, sel session.Selector) {
	out, err := r.engine.Resolve(ctx, sel)
	if err != nil {
		r.reportEngineErr(err)
		return
	}
	r.printNotice("continuing %s (%d messages restored)", out.ConversationID, out.Restored)
	if out.LastResponseID == "" {
		r.printWarn("no stored response id; continuing with client-side context only")
	}
}

// sendPrompt runs one model turn. A prompt typed while the session is empty
// or paused silently starts a fresh conversation; the paused one stays
// reachable through continue and history.
func (r *REPL) sendPrompt(ctx context.Context, prompt string) {
	state := r.engine.State()
	wasActive := state.Phase() == chat.PhaseActive
	if !wasActive {
		if _, err := r.engine.Begin(""); err != nil {
			r.reportEngineErr(err)
			return
		}
		state = r.engine.State()
	}

	if err := r.engine.BeginTurn(); err != nil {
		r.reportEngineErr(err)
		return
	}
	defer r.engine.EndTurn()

	req := llm.Request{
		Model:  r.model,
		Input:  append(chat.CloneContext(state.Context), chat.Message{Role: chat.RoleUser, Content: prompt}),
		TurnID: uuid.NewString(),
	}
	if wasActive {
		req.PreviousResponseID = state.LastResponseID
	}
	if r.searchEnabled {
		req.Tools = []string{"web_search"}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	stopWatch := r.watchInterrupts(reqCtx, cancel)
	defer stopWatch()

	streamed := false
	resp, err := r.client.StreamResponse(reqCtx, req, func(delta string) error {
		streamed = true
		fmt.Fprint(r.out, delta)
		return nil
	})
	if streamed {
		fmt.Fprintln(r.out)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			r.printWarn("request interrupted")
		} else {
			r.printError(err)
		}
		return
	}
	if !streamed && resp.Text != "" {
		fmt.Fprintln(r.out, resp.Text)
	}

	if _, err := r.engine.RecordExchange(ctx, prompt, resp.Text, resp.ID); err != nil {
		r.printError(err)
		return
	}
	if resp.ID == "" {
		r.printWarn("service returned no response id; follow-ups use client-side context only")
	}
}

// watchInterrupts cancels the request on the first SIGINT. The returned stop
// function releases the watcher.
func (r *REPL) watchInterrupts(ctx context.Context, cancel context.CancelFunc) func() {
	if r.interrupts == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-r.interrupts:
			cancel()
		case <-ctx.Done():
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (r *REPL) recordCommand(line string) {
	redacted, changed := policy.RedactSecrets(line)
	if changed {
		r.logger.Debug("secret redacted from command history")
	}
	r.engine.CommandEntered(redacted)
}

func (r *REPL) reportEngineErr(err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		r.printWarn("a request is still in flight; try again when it finishes")
	case errors.Is(err, session.ErrNothingToResume):
		r.printNotice("nothing to continue from")
	default:
		r.printError(err)
	}
}
