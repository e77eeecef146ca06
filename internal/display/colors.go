package display

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color identifies one of the terminal colors a theme can map to
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
	ColorBrightCyan
)

// ColorTheme maps semantic roles to terminal colors
type ColorTheme struct {
	Primary   Color
	Success   Color
	Warning   Color
	Error     Color
	Info      Color
	Muted     Color
}

// ColorSystem handles color application and terminal detection
type ColorSystem struct {
	theme          ColorTheme
	colorSupported bool
	profile        termenv.Profile
	colorMap       map[Color]*color.Color
}

// NewColorSystem creates a new color system with terminal detection
func NewColorSystem(theme ColorTheme) *ColorSystem {
	cs := &ColorSystem{
		theme:          theme,
		colorSupported: detectColorSupport(),
		profile:        termenv.ColorProfile(),
	}

	cs.colorMap = map[Color]*color.Color{
		ColorReset:        color.New(color.Reset),
		ColorRed:          color.New(color.FgRed),
		ColorGreen:        color.New(color.FgGreen),
		ColorYellow:       color.New(color.FgYellow),
		ColorBlue:         color.New(color.FgBlue),
		ColorCyan:         color.New(color.FgCyan),
		ColorWhite:        color.New(color.FgWhite),
		ColorBrightRed:    color.New(color.FgHiRed),
		ColorBrightGreen:  color.New(color.FgHiGreen),
		ColorBrightYellow: color.New(color.FgHiYellow),
		ColorBrightBlue:   color.New(color.FgHiBlue),
		ColorBrightCyan:   color.New(color.FgHiCyan),
	}

	if !cs.colorSupported {
		color.NoColor = true
	}

	return cs
}

// detectColorSupport checks if the terminal supports colors
func detectColorSupport() bool {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}

	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}

	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	return true
}

// Colorize applies color to text if color is supported
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.colorSupported {
		return text
	}

	if colorFunc, exists := cs.colorMap[clr]; exists {
		return colorFunc.Sprint(text)
	}

	return text
}

// Sprintf formats text with color using format string
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// IsColorSupported returns whether colors are supported
func (cs *ColorSystem) IsColorSupported() bool {
	return cs.colorSupported
}

// Theme returns the current color theme
func (cs *ColorSystem) Theme() ColorTheme {
	return cs.theme
}

// DarkColorTheme returns a color theme optimized for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBrightBlue,
		Success: ColorBrightGreen,
		Warning: ColorBrightYellow,
		Error:   ColorBrightRed,
		Info:    ColorCyan,
		Muted:   ColorWhite,
	}
}

// PlainTextTheme returns a theme that uses no colors (fallback)
func PlainTextTheme() ColorTheme {
	return ColorTheme{}
}

// GetThemeByName returns a color theme by name
func GetThemeByName(name string) ColorTheme {
	switch name {
	case "plain", "none":
		return PlainTextTheme()
	default:
		return DarkColorTheme()
	}
}
