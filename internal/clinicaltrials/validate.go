package clinicaltrials

import "fmt"

// ValidationIssue reports one response shape problem. Issues are advisory:
// the API schema evolves and a missing optional module should not fail a
// query that decoded.
type ValidationIssue struct {
	Field    string
	Message  string
	Severity string // "error" or "warning"
}

// ValidateResponse checks the decoded payload against the shape the
// pipeline depends on.
func ValidateResponse(resp *QueryResponse) []ValidationIssue {
	var issues []ValidationIssue
	if resp == nil {
		return []ValidationIssue{{Field: "", Message: "nil response", Severity: "error"}}
	}
	if resp.Studies == nil {
		issues = append(issues, ValidationIssue{
			Field:    "studies",
			Message:  "studies list missing",
			Severity: "error",
		})
		return issues
	}
	for i, s := range resp.Studies {
		if s.NCTID() == "" {
			issues = append(issues, ValidationIssue{
				Field:    fmt.Sprintf("studies[%d].protocolSection.identificationModule.nctId", i),
				Message:  "study without nctId",
				Severity: "warning",
			})
		}
		if s.Title() == "" {
			issues = append(issues, ValidationIssue{
				Field:    fmt.Sprintf("studies[%d].protocolSection.identificationModule.briefTitle", i),
				Message:  "study without briefTitle",
				Severity: "warning",
			})
		}
	}
	return issues
}
