package pipeline

import (
	"context"
	"fmt"
)

// normalizeSettings flips the options that must differ between staging and
// production: search engines get let back in, and the timezone and admin
// email revert to their production values when configured. Every write is
// warning-only; a failed option update never aborts a deploy.
func (p *Pipeline) normalizeSettings(ctx context.Context) []string {
	settings := []struct{ key, value string }{
		{"blog_public", "1"},
	}
	if p.cfg.ProdTimezone != "" {
		settings = append(settings, struct{ key, value string }{"timezone_string", p.cfg.ProdTimezone})
	}
	if p.cfg.ProdAdminEmail != "" {
		settings = append(settings, struct{ key, value string }{"admin_email", p.cfg.ProdAdminEmail})
	}

	var warnings []string
	for _, s := range settings {
		if err := p.prod.UpdateOption(ctx, s.key, s.value); err != nil {
			warnings = append(warnings, fmt.Sprintf("could not set %s: %v", s.key, err))
		}
	}
	return warnings
}
