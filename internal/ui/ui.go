// Package ui renders tasks for the terminal.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/pearls-dev/pearls/internal/types"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes tasks either as display lines or as pretty JSON.
type Printer struct {
	out      io.Writer
	json     bool
	renderer *lipgloss.Renderer
	styles   map[types.State]lipgloss.Style
	dim      lipgloss.Style
}

// NewPrinter returns a Printer writing to out. Colour is enabled only when
// out is a terminal and NO_COLOR is unset.
func NewPrinter(out io.Writer, jsonMode bool) *Printer {
	r := lipgloss.NewRenderer(out)
	if !IsTerminal(out) || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		out:      out,
		json:     jsonMode,
		renderer: r,
		styles: map[types.State]lipgloss.Style{
			types.StateReady:      r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
			types.StateBlocked:    r.NewStyle().Foreground(lipgloss.Color("1")),
			types.StateInProgress: r.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
			types.StateClosed:     r.NewStyle().Foreground(lipgloss.Color("8")),
		},
		dim: r.NewStyle().Faint(true),
	}
}

// JSONMode reports whether the printer emits JSON.
func (p *Printer) JSONMode() bool {
	return p.json
}

// Task prints one task.
func (p *Printer) Task(t *types.Task) error {
	if p.json {
		return p.JSON(t)
	}
	_, err := fmt.Fprintln(p.out, p.styledLine(t))
	return err
}

// Tasks prints a list of tasks. An empty list prints "[]" in JSON mode and
// nothing otherwise.
func (p *Printer) Tasks(tasks []*types.Task) error {
	if p.json {
		if tasks == nil {
			tasks = []*types.Task{}
		}
		return p.JSON(tasks)
	}
	for _, t := range tasks {
		if _, err := fmt.Fprintln(p.out, p.styledLine(t)); err != nil {
			return err
		}
	}
	return nil
}

// Status prints a status object ({"status": ...}) in JSON mode and message
// otherwise.
func (p *Printer) Status(status, message string) error {
	if p.json {
		return p.JSON(map[string]string{"status": status})
	}
	_, err := fmt.Fprintln(p.out, message)
	return err
}

// JSON pretty-prints v.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(p.out, string(data))
	return err
}

func (p *Printer) styledLine(t *types.Task) string {
	state := "[" + string(t.State) + "]"
	if style, ok := p.styles[t.State]; ok {
		state = style.Render(state)
	}
	rels := p.dim.Render(fmt.Sprintf("parents=%s children=%s", FormatIDs(t.Parents), FormatIDs(t.Children)))
	return fmt.Sprintf("#%d %s p%d %s - %s %s", t.ID, state, t.Priority, t.Title, t.Description, rels)
}

// FormatLine returns the uncoloured display line for t:
//
//	#<id> [<state>] p<priority> <title> - <desc> parents=[..] children=[..]
func FormatLine(t *types.Task) string {
	return fmt.Sprintf("#%d [%s] p%d %s - %s parents=%s children=%s",
		t.ID, t.State, t.Priority, t.Title, t.Description, FormatIDs(t.Parents), FormatIDs(t.Children))
}

// FormatIDs renders ids as [1,2,3].
func FormatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
