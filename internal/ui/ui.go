// Package ui renders query results and status for the command line.
// Interactive terminals get color; pipes and CI get plain text.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/sibyl-search/sibyl/internal/query"
	"github.com/sibyl-search/sibyl/internal/telemetry"
)

// Renderer writes human-readable query output.
type Renderer struct {
	out    io.Writer
	styles Styles
}

// NewRenderer creates a renderer for the given writer. Color is used only
// when the writer is an interactive terminal and NO_COLOR is unset.
func NewRenderer(out io.Writer, noColor bool) *Renderer {
	useColor := !noColor && IsTTY(out) && os.Getenv("NO_COLOR") == ""
	return &Renderer{
		out:    out,
		styles: GetStyles(!useColor),
	}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// RenderResponse writes a query response.
func (r *Renderer) RenderResponse(resp *query.Response) {
	s := r.styles

	if resp.Degraded {
		fmt.Fprintln(r.out, s.Warning.Render(
			fmt.Sprintf("degraded: %s", strings.Join(resp.DegradedReasons, ", "))))
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(r.out, s.Dim.Render("No results."))
		return
	}

	for i, e := range resp.Results {
		header := fmt.Sprintf("%d. %s", i+1, e.DocumentID)
		if e.HeadingPath != "" {
			header += s.Dim.Render(" > " + e.HeadingPath)
		}
		fmt.Fprintln(r.out, s.Header.Render(header),
			s.Score.Render(fmt.Sprintf("(%.2f)", e.Score)))
		fmt.Fprintln(r.out, indent(e.Text, "   "))
		fmt.Fprintln(r.out)
	}

	if len(resp.Attachments) > 0 {
		fmt.Fprintln(r.out, s.Label.Render("Attachments:"))
		for _, a := range resp.Attachments {
			fmt.Fprintf(r.out, "  %s  %s  %s\n",
				s.Source.Render(a.Name), a.URI,
				s.Dim.Render(fmt.Sprintf("%.2f", a.Relevance)))
		}
		fmt.Fprintln(r.out)
	}

	fmt.Fprintln(r.out, s.Dim.Render(fmt.Sprintf("cache: %s  total: %dms  adapters: %d",
		resp.Timings.CacheStatus,
		resp.Timings.Total.Milliseconds(),
		resp.Timings.AdapterCalls)))
}

// RenderStatus writes a telemetry snapshot.
func (r *Renderer) RenderStatus(snap telemetry.Snapshot) {
	s := r.styles

	fmt.Fprintln(r.out, s.Header.Render("Query statistics"))
	fmt.Fprintf(r.out, "  %s %d\n", s.Label.Render("total:"), snap.Total)
	fmt.Fprintf(r.out, "  %s %d\n", s.Label.Render("cache hits:"), snap.CacheHits)
	fmt.Fprintf(r.out, "  %s %d\n", s.Label.Render("degraded:"), snap.Degraded)
	fmt.Fprintf(r.out, "  %s %d\n", s.Label.Render("zero results:"), snap.ZeroResults)
	fmt.Fprintf(r.out, "  %s %d\n", s.Label.Render("failed:"), snap.Failed)
	fmt.Fprintf(r.out, "  %s %s\n", s.Label.Render("uptime:"), snap.Uptime.Round(time.Second))

	fmt.Fprintln(r.out, s.Header.Render("Latency"))
	for _, label := range []string{"<10ms", "10-50ms", "50-100ms", "100-500ms", "500ms-2s", ">2s"} {
		if n := snap.Latency[label]; n > 0 {
			fmt.Fprintf(r.out, "  %-10s %d\n", label, n)
		}
	}
}

// RenderError writes an error message.
func (r *Renderer) RenderError(err error) {
	fmt.Fprintln(r.out, r.styles.Error.Render("error: "+err.Error()))
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
