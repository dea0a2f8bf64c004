package report

import (
	"bufio"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderBottom(true)

	headingStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			MarginTop(1)

	subheadingStyle = lipgloss.NewStyle().
			MarginLeft(2)

	tableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	noteStyle = lipgloss.NewStyle().
			Width(78).
			MarginTop(1)
)

// TextRenderer writes the document as bordered plain-text tables.
type TextRenderer struct{}

// Extension implements Renderer.
func (TextRenderer) Extension() string { return ".txt" }

// Render implements Renderer.
func (TextRenderer) Render(w io.Writer, doc *Document) error {
	bw := bufio.NewWriter(w)
	var blocks []string

	blocks = append(blocks,
		titleStyle.Render(doc.Title),
		"Generated: "+doc.Generated.Format(generatedLayout),
	)

	if doc.Statistics != nil {
		blocks = append(blocks, headingStyle.Render("Statistics"), textTable(doc.Statistics))
	}

	if doc.HasRules() {
		blocks = append(blocks, headingStyle.Render("Forwarding Rules"))
		for _, section := range doc.Rules {
			blocks = append(blocks, "", section.Heading, textTable(&section.Details))
			if section.Filter != nil {
				blocks = append(blocks, subheadingStyle.Render("Filter Configuration:"), textTable(section.Filter))
			}
		}
	}

	for _, note := range doc.Notes {
		blocks = append(blocks, noteStyle.Render(note))
	}

	if _, err := bw.WriteString(strings.Join(blocks, "\n") + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func textTable(t *Table) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style { return tableCellStyle }).
		Headers(t.Header...).
		Rows(t.Rows...).
		String()
}
