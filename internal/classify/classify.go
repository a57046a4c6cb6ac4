// Package classify partitions catalog items into named buckets by matching
// free-text titles against keyword rules.
package classify

import (
	"strings"

	"stockwatch/internal/catalog"
)

// Rule matches a lowercased title against one bucket.
//
// Exclude guards keyword families sharing a substring: a title claimed by a
// more specific rule must not leak into the generic one (e.g. "trackpant"
// contains "pant").
type Rule struct {
	Bucket  string
	Match   []string
	Exclude []string
}

// DefaultRules is the fixed, ordered rule set for apparel listings.
var DefaultRules = []Rule{
	{Bucket: "T-SHIRTS", Match: []string{"t-shirt", "tshirt"}},
	{Bucket: "HOODIES", Match: []string{"hoodie"}},
	{Bucket: "SWEATSHIRTS", Match: []string{"sweatshirt"}},
	{Bucket: "CARDIGANS", Match: []string{"cardigan"}},
	{Bucket: "JEANS", Match: []string{"jean"}},
	{Bucket: "PANTS", Match: []string{"pant"}, Exclude: []string{"trackpant", "track pant"}},
	{Bucket: "TROUSERS", Match: []string{"trouser"}},
	{Bucket: "TRACKPANTS", Match: []string{"trackpant", "track pant"}},
	{Bucket: "PYJAMA", Match: []string{"pyjama", "pajama"}},
}

// Buckets maps bucket name to the items that matched its rule, in input order.
type Buckets map[string][]catalog.Item

// Classify evaluates every rule independently per item; an item may land in
// zero or more buckets. Items with an empty title or link are skipped.
// Output is never capped here; display truncation belongs to the dispatcher.
func Classify(items []catalog.Item, rules []Rule) Buckets {
	out := Buckets{}
	for _, it := range items {
		if it.Link == "" || strings.TrimSpace(it.Title) == "" {
			continue
		}
		title := strings.ToLower(it.Title)
		for _, r := range rules {
			if r.matches(title) {
				out[r.Bucket] = append(out[r.Bucket], it)
			}
		}
	}
	return out
}

func (r Rule) matches(title string) bool {
	for _, ex := range r.Exclude {
		if strings.Contains(title, ex) {
			return false
		}
	}
	for _, m := range r.Match {
		if strings.Contains(title, m) {
			return true
		}
	}
	return false
}

// Order returns bucket names in rule order, so notification output is stable.
func Order(rules []Rule) []string {
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Bucket)
	}
	return names
}
