package mcp

import (
	"fmt"
	"strings"

	"github.com/sibyl-search/sibyl/internal/query"
)

// FormatQueryResults formats a query response as markdown for tool output.
func FormatQueryResults(resp *query.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for \"%s\"", queryText(resp))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Results for \"%s\"\n\n", resp.Query))
	sb.WriteString(fmt.Sprintf("Found %d result", len(resp.Results)))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	if resp.Degraded {
		sb.WriteString(fmt.Sprintf(" (degraded: %s)", strings.Join(resp.DegradedReasons, ", ")))
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatEvidence(&sb, i+1, r)
	}

	if len(resp.Attachments) > 0 {
		sb.WriteString("### Attachments\n\n")
		for _, a := range resp.Attachments {
			fmt.Fprintf(&sb, "- **%s** (%s, relevance: %.2f)\n", a.Name, a.URI, a.Relevance)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "_cache: %s, total: %dms_\n",
		resp.Timings.CacheStatus, resp.Timings.Total.Milliseconds())

	return sb.String()
}

func formatEvidence(sb *strings.Builder, num int, e query.Evidence) {
	fmt.Fprintf(sb, "### %d. %s (score: %.2f)\n", num, e.DocumentID, e.Score)
	if e.HeadingPath != "" {
		fmt.Fprintf(sb, "**Section:** %s\n", e.HeadingPath)
	}
	if e.Page > 0 {
		fmt.Fprintf(sb, "**Page:** %d\n", e.Page)
	}
	sb.WriteString("\n")
	sb.WriteString(e.Text)
	sb.WriteString("\n\n")
}

func queryText(resp *query.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Query
}
