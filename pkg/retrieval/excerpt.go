package retrieval

import (
	"strings"
)

const (
	truncationMarker = "\n…[truncated]"
	windowLines       = 3
	windowSeparator   = "\n…\n"
)

// excerptResult is the output of one of the excerpting strategies:
// section-by-heading, window-around-match, or top-of-file fallback.
type excerptResult struct {
	Text      string
	Truncated bool
}

// excerptFor tries, in order, section-by-heading (if heading is non-empty),
// window-around-match against query, and finally a top-of-file fallback,
// returning the first strategy that produces a non-empty result, trimmed to
// budget chars.
func excerptFor(content, heading, query string, budget int) (excerptResult, bool) {
	if budget <= 0 {
		return excerptResult{}, false
	}

	if heading != "" {
		if r, ok := sectionByHeading(content, heading, budget); ok {
			return r, true
		}
	}
	if r, ok := windowAroundMatch(content, query, budget); ok {
		return r, true
	}
	return topOfFile(content, budget), true
}

// headingLevel returns the markdown heading level of line (0 if line is not
// a heading) and the heading text with marker characters and surrounding
// whitespace stripped.
func headingLevel(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level >= len(trimmed) || trimmed[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// sectionByHeading performs a case-insensitive substring match against
// heading text, stripping leading marker characters, and returns the lines
// from the matched heading down to (but excluding) the next heading of the
// same or higher level.
func sectionByHeading(content, heading string, budget int) (excerptResult, bool) {
	lines := strings.Split(content, "\n")
	needle := strings.ToLower(heading)

	start := -1
	startLevel := 0
	for i, line := range lines {
		level, text := headingLevel(line)
		if level == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(text), needle) {
			start = i
			startLevel = level
			break
		}
	}
	if start == -1 {
		return excerptResult{}, false
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		level, _ := headingLevel(lines[i])
		if level > 0 && level <= startLevel {
			end = i
			break
		}
	}

	section := strings.Join(lines[start:end], "\n")
	return truncate(section, budget), true
}

// windowAroundMatch finds every line containing query (case-insensitive),
// expands each into a ±windowLines range, merges overlapping ranges, and
// emits the merged windows joined by windowSeparator.
func windowAroundMatch(content, query string, budget int) (excerptResult, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return excerptResult{}, false
	}
	lines := strings.Split(content, "\n")
	needle := strings.ToLower(query)

	type lineRange struct{ start, end int }
	var ranges []lineRange
	for i, line := range lines {
		if strings.Contains(strings.ToLower(line), needle) {
			start := i - windowLines
			if start < 0 {
				start = 0
			}
			end := i + windowLines
			if end >= len(lines) {
				end = len(lines) - 1
			}
			ranges = append(ranges, lineRange{start, end})
		}
	}
	if len(ranges) == 0 {
		return excerptResult{}, false
	}

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end+1 {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	windows := make([]string, 0, len(merged))
	for _, r := range merged {
		windows = append(windows, strings.Join(lines[r.start:r.end+1], "\n"))
	}
	return truncate(strings.Join(windows, windowSeparator), budget), true
}

// topOfFile returns the first budget characters of content, used when
// neither the heading nor the query produces a match.
func topOfFile(content string, budget int) excerptResult {
	return truncate(content, budget)
}

// truncate trims text to budget characters, appending truncationMarker and
// setting Truncated when it had to cut.
func truncate(text string, budget int) excerptResult {
	if len(text) <= budget {
		return excerptResult{Text: text, Truncated: false}
	}
	cut := budget - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return excerptResult{Text: text[:cut] + truncationMarker, Truncated: true}
}
