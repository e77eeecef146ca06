package display

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const defaultTerminalWidth = 80

// DisplayService renders user-facing output: status lines, headers and
// simple column tables sized to the terminal
type DisplayService struct {
	out    io.Writer
	colors *ColorSystem
	width  int
}

// NewDisplayService creates a display service writing to stdout
func NewDisplayService(theme ColorTheme) *DisplayService {
	return &DisplayService{
		out:    os.Stdout,
		colors: NewColorSystem(theme),
		width:  terminalWidth(),
	}
}

// NewDisplayServiceWithWriter creates a display service with a custom writer,
// used by tests
func NewDisplayServiceWithWriter(out io.Writer, theme ColorTheme) *DisplayService {
	return &DisplayService{
		out:    out,
		colors: NewColorSystem(theme),
		width:  defaultTerminalWidth,
	}
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return defaultTerminalWidth
}

// Info prints an informational message
func (d *DisplayService) Info(format string, args ...interface{}) {
	fmt.Fprintln(d.out, d.colors.Sprintf(d.colors.Theme().Info, format, args...))
}

// Success prints a success message
func (d *DisplayService) Success(format string, args ...interface{}) {
	fmt.Fprintln(d.out, d.colors.Sprintf(d.colors.Theme().Success, "✓ "+format, args...))
}

// Warning prints a warning message
func (d *DisplayService) Warning(format string, args ...interface{}) {
	fmt.Fprintln(d.out, d.colors.Sprintf(d.colors.Theme().Warning, "! "+format, args...))
}

// Error prints an error message
func (d *DisplayService) Error(format string, args ...interface{}) {
	fmt.Fprintln(d.out, d.colors.Sprintf(d.colors.Theme().Error, "✗ "+format, args...))
}

// PrintHeader prints a section header with an underline sized to the text
func (d *DisplayService) PrintHeader(title string) {
	fmt.Fprintln(d.out)
	fmt.Fprintln(d.out, d.colors.Colorize(title, d.colors.Theme().Primary))
	fmt.Fprintln(d.out, d.colors.Colorize(strings.Repeat("─", min(len(title), d.width)), d.colors.Theme().Muted))
}

// PrintTable prints rows as aligned columns under a header row
func (d *DisplayService) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], h))
	}
	fmt.Fprintln(d.out, d.colors.Colorize(strings.TrimRight(sb.String(), " "), d.colors.Theme().Primary))

	for _, row := range rows {
		sb.Reset()
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], cell))
			}
		}
		fmt.Fprintln(d.out, strings.TrimRight(sb.String(), " "))
	}
}
