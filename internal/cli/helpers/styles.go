package helpers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Width(14)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))
)

// Field is one labelled line of a summary block.
type Field struct {
	Label string
	Value string
}

// Summary renders a title followed by aligned label/value lines.
func Summary(title string, fields ...Field) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for _, f := range fields {
		b.WriteString(labelStyle.Render(f.Label))
		b.WriteString(f.Value)
		b.WriteString("\n")
	}
	return b.String()
}

// Warn renders a warning line.
func Warn(format string, args ...any) string {
	return warnStyle.Render(fmt.Sprintf(format, args...))
}
