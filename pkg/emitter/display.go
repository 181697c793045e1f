package emitter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accent = lipgloss.Color("99")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(faint).
			Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	clockStyle  = lipgloss.NewStyle().Foreground(dim)
)

// Display is the interactive terminal emitter. Each step gets a cleared
// screen topped by a progress header; output lines are word wrapped to
// the terminal width.
type Display struct {
	mu      sync.Mutex
	out     *termenv.Output
	fd      int
	in      *bufio.Reader
	log     *logFile
	now     func() time.Time
	status  string
	started bool
}

// NewDisplay creates an interactive emitter writing to out.
func NewDisplay(out *os.File, in io.Reader, logDir string) *Display {
	d := &Display{
		out: termenv.NewOutput(out),
		fd:  int(out.Fd()),
		log: newLogFile(logDir),
		now: time.Now,
	}
	if in != nil {
		d.in = bufio.NewReader(in)
	}
	lipgloss.SetColorProfile(d.out.Profile)
	return d
}

func (d *Display) width() int {
	if !term.IsTerminal(d.fd) {
		return 80
	}
	w, _, err := term.GetSize(d.fd)
	if err != nil || w < 20 {
		return 80
	}
	return w
}

// Progress records the status shown in the header on the next Clear.
func (d *Display) Progress(pending int, running string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = fmt.Sprintf("%d steps to run, running %s", pending, running)
}

func (d *Display) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.out.ClearScreen()
	d.started = true

	line := clockStyle.Render(d.now().Format("15:04:05")) + " " + statusStyle.Render(d.status)
	fmt.Fprintln(d.out, headerStyle.Width(d.width()-2).Render(line))
}

func (d *Display) Logger(id string) error {
	return d.log.open(id)
}

func (d *Display) Emit(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitLocked(text)
}

func (d *Display) emitLocked(text string) {
	limit := d.width() - 3
	for _, line := range splitLines(text) {
		d.log.write(line)
		wrapped := wrap.String(wordwrap.String(line, limit), limit)
		for _, part := range strings.Split(wrapped, "\n") {
			fmt.Fprintln(d.out, " "+part)
		}
	}
}

func (d *Display) GetStr(prompt string) (string, error) {
	d.mu.Lock()
	fmt.Fprint(d.out, " "+Sanitize(prompt))
	d.mu.Unlock()

	answer, err := readLine(d.in)
	if err != nil {
		return "", err
	}
	d.log.write(Sanitize(prompt + answer))
	return answer, nil
}

// Close restores the terminal and closes the current step log.
func (d *Display) Close() error {
	d.mu.Lock()
	if d.started {
		d.out.ShowCursor()
		fmt.Fprintln(d.out)
	}
	d.mu.Unlock()
	return d.log.close()
}
