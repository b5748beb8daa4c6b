package formatting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// citationRe matches inline citation markers like [3].
var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// EnsureSources rewrites the trailing Sources section of a synthesized
// answer so it lists every record the model was given, in prompt order, with
// the entries the answer actually cites marked. A sources section the model
// emitted itself is replaced rather than duplicated, and the numbering stays
// aligned with the inline [n] markers because both come from the same list.
func EnsureSources(answer string, sources []research.SourceRecord) string {
	s := strings.TrimSpace(answer)
	if s == "" || len(sources) == 0 {
		return answer
	}

	used := citedIndices(s)

	// Drop the model's own section. The last occurrence wins so a body that
	// merely mentions "## Sources" is not cut short.
	lower := strings.ToLower(s)
	if idx := strings.LastIndex(lower, "## sources"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	var b strings.Builder
	if s != "" {
		b.WriteString(strings.TrimRight(s, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("## Sources\n")
	for i, src := range sources {
		b.WriteString(CitationLine(i+1, src))
		if used[i+1] {
			b.WriteString(" - cited inline")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// CitationLine renders one numbered source entry in the form
// "[n] Title (URL) - provider, 2024-01-01".
func CitationLine(n int, src research.SourceRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", n, src.Title)
	if src.URL != "" {
		fmt.Fprintf(&b, " (%s)", src.URL)
	}
	if src.ProviderKind != "" {
		fmt.Fprintf(&b, " - %s", src.ProviderKind)
	}
	if src.PublishedAt != nil {
		fmt.Fprintf(&b, ", %s", src.PublishedAt.Format("2006-01-02"))
	}
	return b.String()
}

// citedIndices collects the citation numbers referenced inline.
func citedIndices(s string) map[int]bool {
	used := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(s, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			used[n] = true
		}
	}
	return used
}
