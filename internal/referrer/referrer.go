package referrer

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dlclark/regexp2"
	"github.com/vinceanalytics/vault/internal/events"
)

// Rule maps referrers matching any of Patterns to Label. Patterns use
// ECMAScript syntax.
type Rule struct {
	Patterns []string
	Label    string
}

// Rules is the default bucket table. Order matters, the first matching rule
// wins so more specific patterns go first.
var Rules = []Rule{
	{Patterns: []string{`^(www\.)?google\.[a-z]`}, Label: "Google"},
	{Patterns: []string{`^android-app:\/\/org\.telegram\.`}, Label: "Telegram"},
	{Patterns: []string{`^web\.telegram\.org$`}, Label: "Telegram"},
	{Patterns: []string{`^(l|lm|m|www)\.facebook\.com`}, Label: "Facebook"},
	{Patterns: []string{`^android-app:\/\/com\.(S|s)lack\/?$`}, Label: "Slack"},
	{Patterns: []string{`(www\.)?duckduckgo\.com($|\/)*`}, Label: "DuckDuckGo"},
	{Patterns: []string{`(www\.)?ecosia\.org($|\/)*`}, Label: "Ecosia"},
	{Patterns: []string{`(www\.)?qwant\.com($|\/)*`}, Label: "Qwant"},
	{Patterns: []string{`(www\.)?baidu\.com($|\/)`}, Label: "Baidu"},
	{Patterns: []string{`(www\.)?linkedin\.com($|\/)`}, Label: "LinkedIn"},
	{Patterns: []string{`^android-app:\/\/com\.linkedin\.`}, Label: "LinkedIn"},
	{Patterns: []string{`t\.co($|\/)`}, Label: "Twitter"},
	{Patterns: []string{`^news\.ycombinator\.com($|\/)`}, Label: "Hacker News"},
	{Patterns: []string{
		`^(old|www)\.reddit\.com($|\/)`,
		`^android-app:\/\/com.laurencedawson\.reddit_sync\.`,
	}, Label: "Reddit"},
	{Patterns: []string{`\.wikipedia\.org($|\/)`}, Label: "Wikipedia"},
	{Patterns: []string{`\.zoom\.us($|\/)`}, Label: "Zoom"},
}

const matchTimeout = 50 * time.Millisecond

type compiled struct {
	re    []*regexp2.Regexp
	label string
}

// Classifier places referrer values in buckets.
type Classifier struct {
	rules []compiled
	cache *ristretto.Cache
}

// Default is built from Rules.
var Default = must(New(Rules))

func must(c *Classifier, err error) *Classifier {
	if err != nil {
		panic(err)
	}
	return c
}

// New compiles rules into a Classifier.
func New(rules []Rule) (*Classifier, error) {
	o := &Classifier{rules: make([]compiled, 0, len(rules))}
	for _, r := range rules {
		c := compiled{label: r.Label}
		for _, p := range r.Patterns {
			re, err := regexp2.Compile(p, regexp2.ECMAScript)
			if err != nil {
				return nil, fmt.Errorf("compiling referrer rule %q %w", p, err)
			}
			re.MatchTimeout = matchTimeout
			c.re = append(c.re, re)
		}
		o.rules = append(o.rules, c)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	o.cache = cache
	return o, nil
}

// Classify returns the label of the first rule matching value. When no rule
// matches value is returned unchanged.
func Classify(value string) string {
	return Default.Classify(value)
}

func (c *Classifier) Classify(value string) string {
	if v, ok := c.cache.Get(value); ok {
		return v.(string)
	}
	label := c.match(value)
	c.cache.Set(value, label, int64(len(value)+len(label)))
	return label
}

func (c *Classifier) match(value string) string {
	for _, r := range c.rules {
		for _, re := range r.re {
			// evaluation errors (timeouts) count as a miss
			if ok, err := re.MatchString(value); err == nil && ok {
				return r.label
			}
		}
	}
	return value
}

// Of returns the bucketed referrer of e when it points to a host other than
// the page itself. Events without a usable referrer report false.
func Of(e *events.Event) (string, bool) {
	ref := e.ReferrerURL()
	if ref == nil {
		return "", false
	}
	if href := e.HrefURL(); href != nil && href.Host == ref.Host {
		return "", false
	}
	// app referrers only classify on their full form
	key := ref.Host
	if key == "" || (ref.Scheme != "http" && ref.Scheme != "https") {
		key = ref.String()
	}
	if key == "" {
		return "", false
	}
	return Classify(key), true
}
