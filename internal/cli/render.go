package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"rejoin/internal/chat"
)

type styles struct {
	prompt lipgloss.Style
	notice lipgloss.Style
	warn   lipgloss.Style
	errMsg lipgloss.Style
	meta   lipgloss.Style
}

func newStyles(plain bool) styles {
	if plain {
		s := lipgloss.NewStyle()
		return styles{prompt: s, notice: s, warn: s, errMsg: s, meta: s}
	}
	return styles{
		prompt: lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		notice: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		errMsg: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		meta:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (r *REPL) printNotice(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.notice.Render(fmt.Sprintf(format, args...)))
}

func (r *REPL) printWarn(format string, args ...any) {
	fmt.Fprintln(r.out, r.styles.warn.Render(fmt.Sprintf(format, args...)))
}

func (r *REPL) printError(err error) {
	fmt.Fprintln(r.out, r.styles.errMsg.Render("error: "+err.Error()))
}

// renderHistory writes stored exchanges most-recent-first, numbered to match
// the indices `continue n` accepts, markdown-rendered when the output is a
// terminal and plain mode is off.
func (r *REPL) renderHistory(records []chat.ResponseRecord, global bool) {
	if len(records) == 0 {
		r.printNotice("no history yet")
		return
	}

	var b strings.Builder
	for i, rec := range records {
		when := time.UnixMilli(rec.Timestamp).Format("2006-01-02 15:04")
		if global {
			fmt.Fprintf(&b, "## %d. %s (%s)\n\n", i+1, rec.ConversationID, when)
		} else {
			fmt.Fprintf(&b, "## %d. %s\n\n", i+1, when)
		}
		fmt.Fprintf(&b, "**you:** %s\n\n%s\n\n", rec.Prompt, rec.Response)
	}

	text := b.String()
	if r.markdown {
		if rendered, err := glamour.Render(text, "auto"); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprint(r.out, text)
}

func (r *REPL) renderDebug() {
	state := r.engine.State()
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("phase:              %s", state.Phase())))
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("conversation:       %s", orNone(state.CurrentConversationID))))
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("last response id:   %s", orNone(state.LastResponseID))))
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("active messages:    %d", len(state.Context))))
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("paused:             %v", state.Paused)))
	if state.Paused {
		fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("paused conversation: %s (%d messages)",
			state.PausedConversationID, len(state.PausedContext))))
	}
	fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("web search:         %v", r.searchEnabled)))

	if r.window == nil {
		return
	}
	for _, st := range r.window.Snapshot().Stages {
		fmt.Fprintln(r.out, r.styles.meta.Render(fmt.Sprintf("%-14s n=%-4d p50=%.0fms p95=%.0fms last=%.0fms",
			st.Stage, st.Samples, st.P50MS, st.P95MS, st.LastMS)))
	}
}

func (r *REPL) printHelp() {
	help := []string{
		"continue [n]   resume the paused conversation, or replay exchange n",
		"new            start a fresh conversation",
		"history [--all] show stored exchanges (--all: across conversations)",
		"search         toggle the web search capability",
		"debug          show session state",
		"exit | quit    leave",
	}
	for _, line := range help {
		fmt.Fprintln(r.out, r.styles.meta.Render("  "+line))
	}
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
