package report

import (
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"

	"bleak/results"
)

// WriteSummary renders res as a human-readable Markdown diagnosis report
// (SPEC_FULL.md §4.9): one section per leak root with its heap-graph paths
// and attributed stacks, built as an HTML fragment and converted to
// Markdown so the rendering pipeline can reuse goquery's DOM manipulation
// instead of hand-assembling Markdown strings.
func WriteSummary(res *results.Results) (string, error) {
	roots := res.LeakRoots()

	var sb strings.Builder
	sb.WriteString("<div id=\"bleak-report\">")
	sb.WriteString("<h1>Leak diagnosis report</h1>")
	if len(roots) == 0 {
		sb.WriteString("<p>No growing heap paths were observed.</p>")
	}
	for _, root := range roots {
		writeRootSection(&sb, root)
	}
	sb.WriteString("</div>")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sb.String()))
	if err != nil {
		return "", fmt.Errorf("report: parse summary fragment: %w", err)
	}
	fragment, err := doc.Find("#bleak-report").Html()
	if err != nil {
		return "", fmt.Errorf("report: extract summary fragment: %w", err)
	}

	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	markdown, err := conv.ConvertString(fragment)
	if err != nil {
		return "", fmt.Errorf("report: convert summary to markdown: %w", err)
	}
	return markdown, nil
}

func writeRootSection(sb *strings.Builder, root results.LeakRoot) {
	fmt.Fprintf(sb, "<h2>Leak root #%d</h2>", root.ID)

	sb.WriteString("<h3>Heap paths</h3><ul>")
	for _, path := range root.Paths {
		fmt.Fprintf(sb, "<li><code>%s</code></li>", html.EscapeString(strings.Join(path, " &rarr; ")))
	}
	sb.WriteString("</ul>")

	if len(root.Stacks) == 0 {
		return
	}
	sb.WriteString("<h3>Attributed stacks</h3><ul>")
	for _, stack := range root.Stacks {
		sb.WriteString("<li><ul>")
		for _, frame := range stack.Frames {
			fmt.Fprintf(sb, "<li>%s:%d:%d</li>", html.EscapeString(frame.File), frame.Line, frame.Column)
		}
		sb.WriteString("</ul></li>")
	}
	sb.WriteString("</ul>")
}
