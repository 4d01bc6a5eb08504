package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/grid-hierarchy/core"
	"github.com/signalsfoundry/grid-hierarchy/model"
)

var (
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorDim    = lipgloss.Color("240")
	colorCyan   = lipgloss.Color("36")
)

var (
	styleID     = lipgloss.NewStyle().Bold(true)
	styleType   = lipgloss.NewStyle().Foreground(colorDim)
	styleNumber = lipgloss.NewStyle().Foreground(colorCyan)

	statusStyles = map[model.Status]lipgloss.Style{
		model.StatusNormal:     lipgloss.NewStyle().Foreground(colorGreen),
		model.StatusWarning:    lipgloss.NewStyle().Foreground(colorYellow),
		model.StatusOverloaded: lipgloss.NewStyle().Foreground(colorRed).Bold(true),
		model.StatusUnsupplied: lipgloss.NewStyle().Foreground(colorDim).Italic(true),
	}
)

// Tree renders the snapshot as an indented tree, one node per line, with
// the status coloured when the terminal supports it.
func Tree(snap core.Snapshot) string {
	var b strings.Builder
	for _, e := range snap.Tree {
		b.WriteString(strings.Repeat("  ", e.Depth))
		if e.Depth > 0 {
			b.WriteString("└─ ")
		}
		b.WriteString(styleID.Render(e.ID))
		b.WriteString(" ")
		b.WriteString(styleType.Render(e.Type.String()))
		b.WriteString(" ")
		b.WriteString(styleNumber.Render(loadText(e)))
		b.WriteString(" ")
		b.WriteString(statusStyles[e.Status].Render(string(e.Status)))
		b.WriteString("\n")
	}
	if len(snap.Unsupplied) > 0 {
		fmt.Fprintf(&b, "unsupplied: %s\n", strings.Join(snap.Unsupplied, ", "))
	}
	return b.String()
}

func loadText(e core.TreeEntry) string {
	if e.Capacity == nil {
		return fmt.Sprintf("%g", e.CurrentLoad)
	}
	return fmt.Sprintf("%g/%g", e.CurrentLoad, *e.Capacity)
}
