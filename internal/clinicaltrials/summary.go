package clinicaltrials

import (
	"fmt"
	"strings"
)

// maxSummarizedStudies caps how many studies one summary lists.
const maxSummarizedStudies = 10

// Summarize renders a markdown report of the studies found for a mutation.
// The rendering is deterministic; no generated prose.
func Summarize(mutation string, studies []Study) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Clinical Trials for %s\n\n", mutation)

	if len(studies) == 0 {
		fmt.Fprintf(&b, "No clinical trials found for mutation %q.\n\n", mutation)
		b.WriteString("Consider broadening the search term (gene symbol without the variant, e.g. `EGFR` instead of `EGFR L858R`).\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Found **%d** trial(s).\n\n", len(studies))

	listed := studies
	truncated := false
	if len(listed) > maxSummarizedStudies {
		listed = listed[:maxSummarizedStudies]
		truncated = true
	}

	for i, s := range listed {
		title := s.Title()
		if title == "" {
			title = "No title available"
		}
		if url := s.URL(); url != "" {
			fmt.Fprintf(&b, "%d. **[%s](%s)**: %s\n", i+1, s.NCTID(), url, title)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, title)
		}

		p := s.ProtocolSection
		if p.Status.OverallStatus != "" {
			fmt.Fprintf(&b, "   - Status: %s\n", p.Status.OverallStatus)
		}
		if len(p.Design.Phases) > 0 {
			fmt.Fprintf(&b, "   - Phase: %s\n", strings.Join(p.Design.Phases, ", "))
		}
		if len(p.Conditions.Conditions) > 0 {
			fmt.Fprintf(&b, "   - Conditions: %s\n", strings.Join(p.Conditions.Conditions, ", "))
		}
		if names := interventionNames(p.Arms.Interventions); len(names) > 0 {
			fmt.Fprintf(&b, "   - Interventions: %s\n", strings.Join(names, ", "))
		}
		if p.Description.BriefSummary != "" {
			fmt.Fprintf(&b, "   - Summary: %s\n", firstSentence(p.Description.BriefSummary))
		}
		b.WriteString("\n")
	}

	if truncated {
		fmt.Fprintf(&b, "_Showing the first %d of %d trials._\n", maxSummarizedStudies, len(studies))
	}
	return b.String()
}

func interventionNames(interventions []Intervention) []string {
	names := make([]string, 0, len(interventions))
	for _, iv := range interventions {
		if iv.Name != "" {
			names = append(names, iv.Name)
		}
	}
	return names
}

// firstSentence truncates a brief summary to its first sentence, keeping
// list entries readable.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ". "); i > 0 {
		return s[:i+1]
	}
	if len(s) > 300 {
		return s[:300] + "…"
	}
	return s
}
