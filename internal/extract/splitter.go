package extract

import (
	"strings"

	"github.com/rpattn/driftetl/internal/domain"
)

// Split partitions text into tagged sections. For every catalog tag the first
// header line carrying the tag's marker opens a span that runs until the next
// boundary line, or the explicit end marker for terminated blocks. Only the
// first occurrence of a tag is captured and text outside any span is dropped.
func Split(text string) []domain.Section {
	lines := strings.Split(normalizeNewlines(text), "\n")
	upper := make([]string, len(lines))
	for idx, line := range lines {
		upper[idx] = strings.ToUpper(strings.TrimSpace(line))
	}

	sections := make([]domain.Section, 0, len(domain.SectionCatalog))
	for _, marker := range domain.SectionCatalog {
		start := findHeader(upper, strings.ToUpper(marker.Start))
		if start < 0 {
			continue
		}

		end := len(lines)
		if marker.End != "" {
			if idx := findHeaderFrom(upper, strings.ToUpper(marker.End), start+1); idx >= 0 {
				end = idx
			}
		} else {
			for idx := start + 1; idx < len(lines); idx++ {
				if domain.IsBoundaryLine(lines[idx]) {
					end = idx
					break
				}
			}
		}

		sections = append(sections, domain.Section{
			Tag:     marker.Tag,
			Content: strings.Trim(strings.Join(lines[start+1:end], "\n"), "\n"),
		})
	}
	return sections
}

func findHeader(upper []string, marker string) int {
	return findHeaderFrom(upper, marker, 0)
}

func findHeaderFrom(upper []string, marker string, from int) int {
	for idx := from; idx < len(upper); idx++ {
		if strings.HasPrefix(upper[idx], marker) {
			return idx
		}
	}
	return -1
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
