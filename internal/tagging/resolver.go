package tagging

import (
	"context"

	"golang.org/x/sync/singleflight"

	"samay/internal/logger"
	"samay/internal/metrics"
	"samay/internal/storage"
)

// Categories is the closed set of labels the classifier may assign
var Categories = []string{
	"Code",
	"Discussion",
	"Meeting",
	"Design",
	"Research",
	"Entertainment",
	"Social Media",
	"Documentation",
	"Learning",
	"Mail",
	"Not Related to Work",
}

var categorySet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Categories))
	for _, c := range Categories {
		m[c] = struct{}{}
	}
	return m
}()

func IsCategory(tag string) bool {
	_, ok := categorySet[tag]
	return ok
}

// RuleSet is an immutable lookup over tag rules. An exact (app, title)
// rule beats the app's wildcard rule.
type RuleSet struct {
	tags  []storage.Tag
	exact map[string]string
	any   map[string]string
}

// NewRuleSet indexes tags, which are expected newest first. The first rule
// seen for a key wins.
func NewRuleSet(tags []storage.Tag) *RuleSet {
	rs := &RuleSet{
		tags:  tags,
		exact: make(map[string]string, len(tags)),
		any:   make(map[string]string),
	}
	for _, t := range tags {
		if t.Title == storage.AnyTitle {
			if _, ok := rs.any[t.App]; !ok {
				rs.any[t.App] = t.Tag
			}
			continue
		}
		key := ruleKey(t.App, t.Title)
		if _, ok := rs.exact[key]; !ok {
			rs.exact[key] = t.Tag
		}
	}
	return rs
}

func ruleKey(app, title string) string {
	return app + "\x00" + title
}

func (rs *RuleSet) Lookup(app, title string) (string, bool) {
	if rs == nil {
		return "", false
	}
	if tag, ok := rs.exact[ruleKey(app, title)]; ok {
		return tag, true
	}
	tag, ok := rs.any[app]
	return tag, ok
}

func (rs *RuleSet) Tags() []storage.Tag {
	if rs == nil {
		return nil
	}
	return rs.tags
}

func (rs *RuleSet) Len() int {
	return len(rs.Tags())
}

// Resolver answers tag lookups from the cache, reloading from the store on
// a miss. Concurrent misses share one load. New rules become visible once
// the cached snapshot expires.
type Resolver struct {
	store storage.TagStore
	cache Cache
	group singleflight.Group
}

func NewResolver(store storage.TagStore, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache}
}

// Resolve returns the category for (app, title). A failed reload is logged
// and treated as no match.
func (r *Resolver) Resolve(ctx context.Context, app, title string) (string, bool) {
	rules, err := r.Rules(ctx)
	if err != nil {
		logger.ForComponent("tags").Warnf("Failed to load tag rules: %v", err)
		return "", false
	}
	return rules.Lookup(app, title)
}

// Matcher loads the rules once and returns a lookup bound to that snapshot.
// A failed load is logged and the lookup matches nothing.
func (r *Resolver) Matcher(ctx context.Context) func(app, title string) (string, bool) {
	rules, err := r.Rules(ctx)
	if err != nil {
		logger.ForComponent("tags").Warnf("Failed to load tag rules: %v", err)
		return func(string, string) (string, bool) { return "", false }
	}
	return rules.Lookup
}

func (r *Resolver) Rules(ctx context.Context) (*RuleSet, error) {
	if rules, ok := r.cache.Load(ctx); ok {
		metrics.TagCacheLookups.WithLabelValues("hit").Inc()
		return rules, nil
	}
	metrics.TagCacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := r.group.Do("rules", func() (any, error) {
		tags, err := r.store.ListAll(context.WithoutCancel(ctx), nil)
		if err != nil {
			return nil, err
		}
		rules := NewRuleSet(tags)
		r.cache.Store(ctx, rules)
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleSet), nil
}
