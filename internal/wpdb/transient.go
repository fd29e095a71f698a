package wpdb

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const liveOpAttempts = 3

// liveOpDelay is a var so tests can shrink the backoff.
var liveOpDelay = 2 * time.Second

// Outcome classifies how a retry-then-degrade operation finished.
type Outcome int

const (
	// Succeeded means the primary mechanism worked within its attempts.
	Succeeded Outcome = iota
	// Degraded means the primary mechanism failed and the fallback worked.
	Degraded
	// Failed means both mechanisms were exhausted.
	Failed
)

// retryThenDegrade drives a live-service operation through its state
// machine: up to `attempts` tries of the primary mechanism with a fixed
// delay, then one try of the fallback. A nil fallback means there is no
// lower-level mechanism to degrade to.
func retryThenDegrade(ctx context.Context, log *zap.Logger, name string,
	primary func(context.Context) error, fallback func(context.Context) error) (Outcome, error) {

	var lastErr error
	for attempt := 1; attempt <= liveOpAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Failed, err
		}
		lastErr = primary(ctx)
		if lastErr == nil {
			return Succeeded, nil
		}
		log.Warn("live operation attempt failed",
			zap.String("op", name), zap.Int("attempt", attempt), zap.Error(lastErr))
		if attempt < liveOpAttempts {
			select {
			case <-time.After(liveOpDelay):
			case <-ctx.Done():
				return Failed, ctx.Err()
			}
		}
	}

	if fallback == nil {
		return Failed, fmt.Errorf("%s failed after %d attempts: %w", name, liveOpAttempts, lastErr)
	}

	if err := fallback(ctx); err != nil {
		return Failed, fmt.Errorf("%s fallback failed: %w (primary: %v)", name, err, lastErr)
	}
	log.Warn("live operation degraded to direct data-layer fallback", zap.String("op", name))
	return Degraded, nil
}

// FlushCache invalidates the object cache. There is no data-layer
// equivalent for external object caches, so failure is terminal (but the
// caller treats it as a warning).
func (c *Client) FlushCache(ctx context.Context) (Outcome, error) {
	if !c.HasWPCLI() {
		return Failed, fmt.Errorf("wp-cli unavailable, cache not flushed")
	}
	return retryThenDegrade(ctx, c.log, "cache flush",
		func(ctx context.Context) error {
			_, err := c.runner.Run(ctx, "wp", c.wpArgs("cache", "flush")...)
			return err
		},
		nil,
	)
}

// FlushRewriteRules regenerates permalink rules. Degrades to deleting the
// stored rules option so WordPress rebuilds it on the next request.
func (c *Client) FlushRewriteRules(ctx context.Context) (Outcome, error) {
	primary := func(ctx context.Context) error {
		if !c.HasWPCLI() {
			return fmt.Errorf("wp-cli unavailable")
		}
		_, err := c.runner.Run(ctx, "wp", c.wpArgs("rewrite", "flush", "--hard")...)
		return err
	}
	fallback := func(ctx context.Context) error {
		_, err := c.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE option_name = ?", quoteIdent(c.Creds.Prefix+"options")),
			"rewrite_rules")
		return err
	}
	return retryThenDegrade(ctx, c.log, "rewrite rule flush", primary, fallback)
}

// DeleteTransients clears ephemeral values. Degrades to deleting transient
// rows from the options table directly.
func (c *Client) DeleteTransients(ctx context.Context) (Outcome, error) {
	primary := func(ctx context.Context) error {
		if !c.HasWPCLI() {
			return fmt.Errorf("wp-cli unavailable")
		}
		_, err := c.runner.Run(ctx, "wp", c.wpArgs("transient", "delete", "--all")...)
		return err
	}
	fallback := func(ctx context.Context) error {
		table := quoteIdent(c.Creds.Prefix + "options")
		// '|' as the escape char sidesteps backslash-literal differences
		// between MySQL and other engines.
		_, err := c.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE option_name LIKE '|_transient|_%%' ESCAPE '|' OR option_name LIKE '|_site|_transient|_%%' ESCAPE '|'`, table))
		return err
	}
	return retryThenDegrade(ctx, c.log, "transient clearing", primary, fallback)
}

// UpdateOption writes a single option key. Used by the production settings
// normalizer; every write is idempotent.
func (c *Client) UpdateOption(ctx context.Context, key, value string) error {
	if c.HasWPCLI() {
		if _, err := c.runner.Run(ctx, "wp", c.wpArgs("option", "update", key, value)...); err == nil {
			return nil
		}
	}
	table := quoteIdent(c.Creds.Prefix + "options")
	n, err := c.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET option_value = ? WHERE option_name = ?", table), value, key)
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = c.Exec(ctx,
			fmt.Sprintf("INSERT INTO %s (option_name, option_value, autoload) VALUES (?, ?, 'yes')", table),
			key, value)
	}
	return err
}
