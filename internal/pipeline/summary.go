package pipeline

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// SummaryMarkdown renders the post-deploy report: what ran, what degraded,
// and the manual checks no automated validator can cover.
func (p *Pipeline) SummaryMarkdown(res *Result) string {
	var b strings.Builder

	b.WriteString("# Deployment summary\n\n")
	fmt.Fprintf(&b, "**%s** promoted to **%s**\n\n", p.cfg.StageURL, p.cfg.ProdURL)

	if res.Backup != nil {
		fmt.Fprintf(&b, "- Backup: `%s` (%s)\n", res.Backup.Name(), humanize.Bytes(uint64(res.Backup.Size)))
	}
	if res.Pruned > 0 {
		fmt.Fprintf(&b, "- Pruned %d old backup(s)\n", res.Pruned)
	}
	if len(res.Snapshots) > 0 {
		restored := len(res.Snapshots) - len(res.LostTables)
		fmt.Fprintf(&b, "- Preserved tables: %d of %d restored\n", restored, len(res.Snapshots))
	}
	if len(res.ClearedCaches) > 0 {
		fmt.Fprintf(&b, "- Cleared caches: %s\n", strings.Join(res.ClearedCaches, ", "))
	}

	if res.Validation != nil {
		b.WriteString("\n## Validation\n\n")
		if res.Validation.Clean() {
			b.WriteString("No residual staging references.\n")
		} else {
			fmt.Fprintf(&b, "%d residual staging reference(s):\n\n", res.Validation.TotalResidual)
			for _, f := range res.Validation.Findings {
				if f.Residual > 0 {
					fmt.Fprintf(&b, "- `%s`: %d row(s)\n", f.Target, f.Residual)
				}
			}
			if !res.Validation.ProdURLPresent {
				b.WriteString("- production URL not found in any scanned column\n")
			}
		}
		if res.Repaired {
			b.WriteString("\nA repair pass ran before the final count.\n")
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n## Warnings\n\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	b.WriteString("\n## Verify manually\n\n")
	fmt.Fprintf(&b, "- Open https://%s and click through the main pages\n", p.cfg.ProdURL)
	b.WriteString("- Log in to wp-admin and confirm permalinks resolve\n")
	b.WriteString("- Submit a test form entry and confirm it arrives\n")
	b.WriteString("- Check that media and theme assets load over https\n")
	if len(res.LostTables) > 0 {
		fmt.Fprintf(&b, "- Recover lost preserved tables from the dumps in `%s`\n", p.cfg.BackupDir)
	}

	return b.String()
}
