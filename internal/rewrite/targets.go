// Package rewrite replaces the staging base URL with the production base
// URL across the known text-bearing columns of a WordPress schema, and
// validates that no staging references remain afterwards.
package rewrite

// Target is a table/column pair known to carry environment-specific URLs.
type Target struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

func (t Target) String() string { return t.Table + "." + t.Column }

// TargetsForPrefix returns the nine URL-bearing columns of a WordPress
// schema with the given table prefix: the options store, content bodies and
// excerpts, the two metadata tables, comment bodies, comment author URLs,
// comment metadata, and user metadata.
func TargetsForPrefix(prefix string) []Target {
	return []Target{
		{prefix + "options", "option_value"},
		{prefix + "posts", "post_content"},
		{prefix + "posts", "post_excerpt"},
		{prefix + "postmeta", "meta_value"},
		{prefix + "termmeta", "meta_value"},
		{prefix + "comments", "comment_content"},
		{prefix + "comments", "comment_author_url"},
		{prefix + "commentmeta", "meta_value"},
		{prefix + "usermeta", "meta_value"},
	}
}

// Replacement is one literal from → to substitution.
type Replacement struct {
	From string
	To   string
}

// ReplacementPairs expands scheme-less stage and prod URLs into the ordered
// substitutions to apply. Scheme-qualified variants come first and both map
// to https (promotion forces the secure scheme); the bare pair last catches
// protocol-relative and serialized references. Order matters: running the
// bare pair first would orphan the scheme-qualified ones.
func ReplacementPairs(stageURL, prodURL string) []Replacement {
	return []Replacement{
		{"https://" + stageURL, "https://" + prodURL},
		{"http://" + stageURL, "https://" + prodURL},
		{stageURL, prodURL},
	}
}
