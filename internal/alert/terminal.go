package alert

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var kindColors = map[Kind]lipgloss.Color{
	KindSuccess: "#10B981",
	KindError:   "#EF4444",
	KindWarning: "#F59E0B",
	KindInfo:    "#06B6D4",
}

var buttonColors = map[Style]lipgloss.Color{
	StyleDefault:     "#2563EB",
	StyleCancel:      "#6B7280",
	StyleDestructive: "#EF4444",
}

// TerminalPresenter prints dialogs to a terminal and reads the chosen
// button from a line based input.
type TerminalPresenter struct {
	out   io.Writer
	in    *bufio.Reader
	plain bool
}

// NewTerminalPresenter writes to out and reads answers from in. Colours
// are used only when out is a terminal.
func NewTerminalPresenter(in io.Reader, out io.Writer) *TerminalPresenter {
	return &TerminalPresenter{
		out:   out,
		in:    bufio.NewReader(in),
		plain: !isTTY(out),
	}
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Present implements Presenter.
func (p *TerminalPresenter) Present(a Alert) {
	fmt.Fprintln(p.out, p.Render(a))
}

// Hide implements Presenter. The terminal keeps its scrollback.
func (p *TerminalPresenter) Hide() {}

// Render formats a as text.
func (p *TerminalPresenter) Render(a Alert) string {
	var body strings.Builder
	if a.Title != "" {
		body.WriteString(p.style(lipgloss.NewStyle().Bold(true)).Render(a.Title))
		body.WriteString("\n")
	}
	if a.Message != "" {
		body.WriteString(a.Message)
		body.WriteString("\n")
	}
	labels := make([]string, len(a.Buttons))
	for i, b := range a.Buttons {
		label := fmt.Sprintf("[%d] %s", i+1, b.Label)
		labels[i] = p.style(lipgloss.NewStyle().Foreground(buttonColors[b.Style])).Render(label)
	}
	body.WriteString(strings.Join(labels, "  "))

	if p.plain {
		return fmt.Sprintf("%s: %s", strings.ToUpper(string(a.Kind)), body.String())
	}
	return lipgloss.NewStyle().
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(kindColors[a.Kind]).
		PaddingLeft(1).
		Render(body.String())
}

func (p *TerminalPresenter) style(s lipgloss.Style) lipgloss.Style {
	if p.plain {
		return lipgloss.NewStyle()
	}
	return s
}

// Prompt reads answers until one names a button of the visible dialog,
// then presses it on r. A single button dialog accepts an empty line.
func (p *TerminalPresenter) Prompt(r *Relay) error {
	for r.Visible() {
		a, _ := r.Current()
		fmt.Fprint(p.out, "> ")
		line, err := p.in.ReadString('\n')
		if err != nil && line == "" {
			r.Hide()
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if i, ok := choose(a, strings.TrimSpace(line)); ok {
			return r.Press(i)
		}
		if err != nil {
			r.Hide()
			return io.ErrUnexpectedEOF
		}
		fmt.Fprintf(p.out, "choose 1-%d\n", len(a.Buttons))
	}
	return nil
}

// choose maps an answer to a button index: a 1-based number, a label
// (case-insensitive) or y/n for a cancel and confirm pair.
func choose(a Alert, answer string) (int, bool) {
	if answer == "" {
		return 0, len(a.Buttons) == 1
	}
	if n, err := strconv.Atoi(answer); err == nil {
		return n - 1, n >= 1 && n <= len(a.Buttons)
	}
	for i, b := range a.Buttons {
		if strings.EqualFold(b.Label, answer) {
			return i, true
		}
	}
	var want Style
	switch strings.ToLower(answer) {
	case "y", "yes":
		want = StyleDestructive
	case "n", "no":
		want = StyleCancel
	default:
		return 0, false
	}
	for i, b := range a.Buttons {
		if b.Style == want {
			return i, true
		}
	}
	return 0, false
}
