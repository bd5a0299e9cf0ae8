package discovery

import (
	"strings"

	"deepresearch/internal/schema"
	"deepresearch/internal/types"
)

// domainRule maps registrable domains to a category. Subdomains match too.
type domainRule struct {
	category types.Category
	domains  []string
}

// rules are checked in order; anything unmatched is CatchAll.
var rules = []domainRule{
	{types.CategoryInstagram, []string{"instagram.com"}},
	{types.CategoryLinkedIn, []string{"linkedin.com"}},
	{types.CategoryYouTube, []string{"youtube.com", "youtu.be"}},
	{types.CategoryX, []string{"x.com", "twitter.com"}},
}

// Classify returns the category for a source identifier. It never fails:
// unparseable or unmatched identifiers fall into the catch-all category.
func Classify(identifier string) types.Category {
	host := schema.Host(identifier)
	if host == "" {
		if canonical, err := schema.NormalizeIdentifier(identifier); err == nil {
			host = schema.Host(canonical)
		}
	}
	host = strings.TrimSuffix(host, ".")
	for _, rule := range rules {
		for _, d := range rule.domains {
			if host == d || strings.HasSuffix(host, "."+d) {
				return rule.category
			}
		}
	}
	return types.CatchAll
}

// SiteDomain returns the primary domain used for site-scoped searches, or ""
// for the catch-all category.
func SiteDomain(c types.Category) string {
	for _, rule := range rules {
		if rule.category == c {
			return rule.domains[0]
		}
	}
	return ""
}

// Bucketize classifies candidates, drops invalid identifiers, removes
// duplicates and truncates each bucket to bucketCap in first-seen order.
// It returns the bucket set and the number of identifiers dropped as invalid.
func Bucketize(candidates []string, bucketCap int) (types.BucketSet, int) {
	bs := types.NewBucketSet()
	buckets := make(map[types.Category]types.CategoryBucket)
	seen := make(map[string]bool)
	invalid := 0

	for _, raw := range candidates {
		id, err := schema.NormalizeIdentifier(raw)
		if err != nil {
			invalid++
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		cat := Classify(id)
		if len(buckets[cat]) >= bucketCap {
			continue
		}
		buckets[cat] = append(buckets[cat], id)
	}

	for cat, bucket := range buckets {
		_ = bs.Set(cat, bucket)
	}
	return bs, invalid
}
