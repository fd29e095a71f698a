package rewrite

import (
	"context"
	"fmt"
)

// Finding is the residual count for one rewrite target.
type Finding struct {
	Target   Target `json:"target"`
	Residual int64  `json:"residual"`
}

// Report aggregates the post-rewrite scan. Success is TotalResidual == 0
// with the production URL present somewhere in the dataset.
type Report struct {
	Findings       []Finding `json:"findings"`
	TotalResidual  int64     `json:"total_residual"`
	ProdURLPresent bool      `json:"prod_url_present"`
}

// Clean reports whether the rewrite left nothing behind and actually wrote
// the production URL.
func (r *Report) Clean() bool {
	return r.TotalResidual == 0 && r.ProdURLPresent
}

// Validate re-scans every target for residual staging-URL occurrences and
// checks that the production URL now appears at least once. The bare
// staging URL is a substring of both scheme-qualified variants, so a single
// contains-count per target covers all three.
func (e *Engine) Validate(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, t := range e.targets {
		residual := fmt.Sprintf("SELECT COUNT(*) FROM `%s` WHERE `%s` LIKE ? ESCAPE '|'", t.Table, t.Column)

		n, err := e.store.Count(ctx, residual, likePattern(e.stageURL))
		if err != nil {
			return nil, fmt.Errorf("counting residuals in %s: %w", t, err)
		}
		report.Findings = append(report.Findings, Finding{Target: t, Residual: n})
		report.TotalResidual += n

		if !report.ProdURLPresent {
			// The production URL is usually a substring of the staging
			// URL, so rows still carrying the staging URL say nothing
			// about whether the rewrite ran. Only stage-free rows count.
			present := fmt.Sprintf(
				"SELECT COUNT(*) FROM `%s` WHERE `%s` LIKE ? ESCAPE '|' AND NOT (`%s` LIKE ? ESCAPE '|')",
				t.Table, t.Column, t.Column)
			m, err := e.store.Count(ctx, present, likePattern(e.prodURL), likePattern(e.stageURL))
			if err != nil {
				return nil, fmt.Errorf("checking production URL in %s: %w", t, err)
			}
			if m > 0 {
				report.ProdURLPresent = true
			}
		}
	}

	return report, nil
}
