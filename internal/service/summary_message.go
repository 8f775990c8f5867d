package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/kbbot/internal/domain"
)

// SummaryMessage renders the reviewer-facing text for a summary
func SummaryMessage(s *domain.KBSummary) string {
	var b strings.Builder

	if s.IsConsolidated() {
		days := int(s.Date.Sub(s.PeriodStart).Hours()/24) + 1
		fmt.Fprintf(&b, "Knowledge base summary for %s to %s (consolidated, %d days)\n",
			s.PeriodStart.Format("2006-01-02"), s.Date.Format("2006-01-02"), days)
	} else {
		fmt.Fprintf(&b, "Knowledge base summary for %s\n", s.Date.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Summary ID: %s\n\n", s.ID)

	pairs := ParseQAPairs(s.SummaryText)
	if len(pairs) == 0 {
		b.WriteString("No new knowledge candidates were found.\n")
		return b.String()
	}

	for i, p := range pairs {
		fmt.Fprintf(&b, "%d. Q: %s\n   A: %s\n\n", i+1, p.Question, p.Answer)
	}
	fmt.Fprintf(&b, "Review with: approve %s | reject %s | changes_required %s followed by corrected Q:/A: pairs\n",
		s.ID, s.ID, s.ID)
	return b.String()
}
