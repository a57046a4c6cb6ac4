package catalog

import (
	"net/url"
	"strings"
)

// NewItem builds an Item from raw anchor data, deriving the stable identifier
// from the canonical link. It returns ok=false when no identifier can be
// derived; such entries must be dropped, never partially represented.
func NewItem(link, title, price string) (Item, bool) {
	canon, id := canonicalize(link)
	if id == "" {
		return Item{}, false
	}
	return Item{
		ID:    id,
		Title: strings.TrimSpace(title),
		Price: strings.TrimSpace(price),
		Link:  canon,
	}, true
}

// canonicalize strips query and fragment from the link and derives the item
// identifier from the last path segment.
func canonicalize(link string) (canon, id string) {
	link = strings.TrimSpace(link)
	if link == "" {
		return "", ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return "", ""
	}
	u.RawQuery = ""
	u.Fragment = ""

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", ""
	}
	segs := strings.Split(path, "/")
	last := segs[len(segs)-1]
	last = strings.TrimSuffix(last, ".html")
	if last == "" {
		return "", ""
	}
	return u.String(), last
}

// DedupByID removes items whose identifier was already seen, keeping the
// first occurrence and the original order.
func DedupByID(items []Item) []Item {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]struct{}, len(items))
	out := items[:0]
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
