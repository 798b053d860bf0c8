// Package spinner shows a terminal spinner while a slow step runs, such as
// waiting for a browser to expose its debugging endpoint. Status lines
// written to the spinner replace each other in place.
package spinner

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Spinner displays a title, a spinner and the latest status line.
type Spinner struct {
	title  string
	output io.Writer
	reader *io.PipeReader
	writer *io.PipeWriter
	lineCh chan string
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup
}

// New creates a Spinner that draws on output (os.Stderr when nil).
func New(output io.Writer, title string) *Spinner {
	if output == nil {
		output = os.Stderr
	}

	reader, writer := io.Pipe()
	return &Spinner{
		title:  title,
		output: output,
		reader: reader,
		writer: writer,
		lineCh: make(chan string, 100),
		done:   make(chan struct{}),
	}
}

// Writer returns a writer whose lines become the status line.
func (s *Spinner) Writer() io.Writer {
	return s.writer
}

// Start draws the spinner until Stop is called. It blocks.
func (s *Spinner) Start() error {
	s.wg.Add(1)
	go s.readLines()

	program := tea.NewProgram(newModel(s.title, s.lineCh, terminalWidth()),
		tea.WithOutput(s.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)

	_, err := program.Run()
	s.wg.Wait()
	return err
}

// Stop clears the spinner line. The program quits once the status channel
// closes. It is safe to call more than once.
func (s *Spinner) Stop() {
	s.stop.Do(func() {
		_ = s.writer.Close() //nolint:errcheck // pipe close never fails
		close(s.done)
	})
}

// Run calls fn while a spinner titled title is shown on output. When output
// is not a terminal fn runs without a spinner. The status writer passed to
// fn is never nil.
func Run(output *os.File, title string, fn func(status io.Writer) error) error {
	if output == nil || !term.IsTerminal(int(output.Fd())) {
		return fn(io.Discard)
	}

	s := New(output, title)
	started := make(chan error, 1)
	go func() { started <- s.Start() }()

	err := fn(s.Writer())
	s.Stop()
	<-started
	return err
}

func (s *Spinner) readLines() {
	defer s.wg.Done()
	defer close(s.lineCh)
	defer s.reader.Close() //nolint:errcheck // best-effort cleanup

	scanner := bufio.NewScanner(s.reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case s.lineCh <- line:
		case <-s.done:
			return
		}
	}
}

func terminalWidth() int {
	if fd := int(os.Stderr.Fd()); term.IsTerminal(fd) {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

type model struct {
	spinner  spinner.Model
	title    string
	status   string
	width    int
	lineCh   <-chan string
	quitting bool
}

type lineMsg string

func newModel(title string, lineCh <-chan string, width int) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return model{spinner: s, title: title, width: width, lineCh: lineCh}
}

//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForLine(m.lineCh))
}

//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case lineMsg:
		m.status = string(msg)
		return m, waitForLine(m.lineCh)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.QuitMsg:
		m.quitting = true
	}
	return m, nil
}

//nolint:gocritic // hugeParam: tea.Model interface requires value receiver
func (m model) View() string {
	if m.quitting {
		return ""
	}

	line := m.title
	if m.status != "" {
		line += ": " + m.status
	}
	// Spinner glyph plus one space.
	return m.spinner.View() + " " + truncate(line, max(m.width-3, 10))
}

func waitForLine(lineCh <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-lineCh
		if !ok {
			return tea.Quit()
		}
		return lineMsg(line)
	}
}

// truncate shortens s to maxWidth, ending in "..." when cut.
func truncate(s string, maxWidth int) string {
	if maxWidth <= 3 {
		return ""
	}
	if len(s) <= maxWidth {
		return s
	}
	return s[:maxWidth-3] + "..."
}
