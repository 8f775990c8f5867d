package service

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// qaFormat is the layout detected in free-text Q/A output
type qaFormat int

const (
	qaFormatNone qaFormat = iota
	qaFormatSingleLine
	qaFormatMultiLine
)

var (
	listPrefix = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)
	qMarker    = regexp.MustCompile(`(?i)(?:^|\s)q:\s*`)
	aMarker    = regexp.MustCompile(`(?i)(?:^|\s)a:\s*`)
	qaMarker   = regexp.MustCompile(`(?i)(?:^|\s)([qa]):\s*`)

	// list numbering left in front of the next marker, as in "A: yes 2. Q: ..."
	trailingListItem = regexp.MustCompile(`\s+(?:\d+[.)]|[-*•])$`)
)

// ParseQAPairs extracts question/answer pairs from oracle output or reviewer text.
// JSON is tried first; otherwise the Q:/A: text parser is used. Unparseable input
// yields an empty slice.
func ParseQAPairs(text string) []domain.QAPair {
	if pairs, ok := parseJSONPairs(text); ok {
		return pairs
	}
	return ParseQAText(text)
}

// parseJSONPairs accepts the first embedded array that yields at least one pair.
// An array that yields none only counts when it is the whole reply, so brackets
// inside Q:/A: text cannot hide the pairs from the text parser.
func parseJSONPairs(text string) ([]domain.QAPair, bool) {
	s := stripCodeFences(text)
	for offset := 0; offset < len(s); {
		raw, next := firstBalancedArray(s[offset:])
		if raw == "" {
			return nil, false
		}
		var pairs []domain.QAPair
		if err := json.Unmarshal([]byte(raw), &pairs); err == nil {
			if cleaned := cleanPairs(pairs); len(cleaned) > 0 || raw == s {
				return cleaned, true
			}
		}
		offset += next
	}
	return nil, false
}

// firstBalancedArray returns the first bracket-balanced [...] substring of s,
// skipping brackets inside JSON strings, and the offset just past its opening bracket.
func firstBalancedArray(s string) (string, int) {
	start := strings.IndexByte(s, '[')
	if start == -1 {
		return "", len(s)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], start + 1
			}
		}
	}
	return "", len(s)
}

func stripCodeFences(text string) string {
	s := strings.TrimSpace(text)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(strings.ToLower(s), "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}
	return strings.TrimSpace(s)
}

// ParseQAText parses "Q: ... A: ..." text in either single-line or multi-line block layout
func ParseQAText(text string) []domain.QAPair {
	switch detectQAFormat(text) {
	case qaFormatSingleLine:
		return parseSingleLine(text)
	case qaFormatMultiLine:
		return parseMultiLine(text)
	default:
		return []domain.QAPair{}
	}
}

// detectQAFormat reports single-line when any line carries both markers
func detectQAFormat(text string) qaFormat {
	sawQ, sawA := false, false
	for _, line := range strings.Split(text, "\n") {
		line = listPrefix.ReplaceAllString(line, "")
		hasQ := qMarker.MatchString(line)
		hasA := aMarker.MatchString(line)
		if hasQ && hasA {
			return qaFormatSingleLine
		}
		sawQ = sawQ || hasQ
		sawA = sawA || hasA
	}
	if sawQ && sawA {
		return qaFormatMultiLine
	}
	return qaFormatNone
}

// parseSingleLine walks the marker sequence across the whole text, so a line may
// hold several pairs ("Q: x A: y Q: z A: w").
func parseSingleLine(text string) []domain.QAPair {
	flat := strings.Join(strings.Fields(text), " ")
	locs := qaMarker.FindAllStringSubmatchIndex(flat, -1)

	pairs := make([]domain.QAPair, 0, len(locs)/2)
	var question string
	haveQuestion := false
	for i, loc := range locs {
		kind := strings.ToLower(flat[loc[2]:loc[3]])
		end := len(flat)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := strings.TrimSpace(flat[loc[1]:end])
		if i+1 < len(locs) {
			body = trailingListItem.ReplaceAllString(body, "")
		}

		if kind == "q" {
			question = body
			haveQuestion = true
			continue
		}
		if haveQuestion {
			pairs = append(pairs, domain.QAPair{Question: question, Answer: body})
			haveQuestion = false
		}
	}
	return cleanPairs(pairs)
}

// parseMultiLine reads blocks where Q: and A: start their own lines and
// continuation lines extend the current field
func parseMultiLine(text string) []domain.QAPair {
	var pairs []domain.QAPair
	var q, a []string
	field := ""

	flush := func() {
		if len(q) > 0 && len(a) > 0 {
			pairs = append(pairs, domain.QAPair{
				Question: strings.Join(q, "\n"),
				Answer:   strings.Join(a, "\n"),
			})
		}
		q, a, field = nil, nil, ""
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(listPrefix.ReplaceAllString(raw, ""))
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "q:"):
			flush()
			field = "q"
			if v := strings.TrimSpace(line[2:]); v != "" {
				q = append(q, v)
			}
		case strings.HasPrefix(lower, "a:") && field != "":
			field = "a"
			if v := strings.TrimSpace(line[2:]); v != "" {
				a = append(a, v)
			}
		case line == "":
			if field == "a" {
				flush()
			}
		case field == "q":
			q = append(q, strings.TrimSpace(raw))
		case field == "a":
			a = append(a, strings.TrimSpace(raw))
		}
	}
	flush()
	return cleanPairs(pairs)
}

func cleanPairs(pairs []domain.QAPair) []domain.QAPair {
	out := make([]domain.QAPair, 0, len(pairs))
	for _, p := range pairs {
		p.Question = strings.TrimSpace(p.Question)
		p.Answer = strings.TrimSpace(p.Answer)
		if p.Question == "" || p.Answer == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// FormatQAPairs serialises pairs as multi-line Q:/A: blocks, the stored summary text format
func FormatQAPairs(pairs []domain.QAPair) string {
	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Q: ")
		b.WriteString(strings.TrimSpace(p.Question))
		b.WriteString("\nA: ")
		b.WriteString(strings.TrimSpace(p.Answer))
	}
	return b.String()
}
