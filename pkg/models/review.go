package models

// ReviewFindings is the structured result of inspecting the three reviewer
// outputs after a pipeline's development steps complete. Raw outputs are nil
// for reviewers that came back clean.
type ReviewFindings struct {
	HasIssues      bool    `json:"has_issues"`
	CodeReview     *string `json:"code_review,omitempty"`
	Security       *string `json:"security,omitempty"`
	QA             *string `json:"qa,omitempty"`
	FrontendIssues bool    `json:"frontend_issues"`
	BackendIssues  bool    `json:"backend_issues"`
	StylingIssues  bool    `json:"styling_issues"`
}

// FailingOutputs returns the non-nil reviewer outputs keyed by agent key.
func (f *ReviewFindings) FailingOutputs() map[string]string {
	out := make(map[string]string)
	if f.CodeReview != nil {
		out["code-review"] = *f.CodeReview
	}
	if f.Security != nil {
		out["security"] = *f.Security
	}
	if f.QA != nil {
		out["qa"] = *f.QA
	}
	return out
}
