package status

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// ColorMode selects whether console output carries ANSI styling.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// ParseColorMode maps "auto", "always" and "never"; anything else is auto.
func ParseColorMode(s string) ColorMode {
	switch s {
	case "always":
		return ColorAlways
	case "never":
		return ColorNever
	}
	return ColorAuto
}

// Symbols for status indicators
const (
	SymbolOK      = "✓"
	SymbolWarn    = "⚠"
	SymbolError   = "✗"
	SymbolUnknown = "–"
)

// Styles holds the console styles bound to one output.
type Styles struct {
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Error  lipgloss.Style
	Info   lipgloss.Style
	Muted  lipgloss.Style
	Bold   lipgloss.Style
	Header lipgloss.Style
}

// NewStyles binds styles to w. In auto mode color is used only when w is a terminal.
func NewStyles(w io.Writer, mode ColorMode) Styles {
	r := lipgloss.NewRenderer(w)
	switch mode {
	case ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case ColorNever:
		r.SetColorProfile(termenv.Ascii)
	}
	return Styles{
		OK:     r.NewStyle().Foreground(lipgloss.Color("42")),  // green
		Warn:   r.NewStyle().Foreground(lipgloss.Color("214")), // orange
		Error:  r.NewStyle().Foreground(lipgloss.Color("196")), // red
		Info:   r.NewStyle().Foreground(lipgloss.Color("39")),  // blue
		Muted:  r.NewStyle().Foreground(lipgloss.Color("245")), // gray
		Bold:   r.NewStyle().Bold(true),
		Header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	}
}

// RenderOK renders a success message with green checkmark
func (s Styles) RenderOK(msg string) string { return s.OK.Render(SymbolOK) + " " + msg }

// RenderWarn renders a warning message with orange symbol
func (s Styles) RenderWarn(msg string) string { return s.Warn.Render(SymbolWarn) + " " + msg }

// RenderDiagnostic renders a fatal error line: "✗ [LABEL] message".
func (s Styles) RenderDiagnostic(label, msg string) string {
	return s.Error.Render(SymbolError+" ["+label+"]") + " " + msg
}
