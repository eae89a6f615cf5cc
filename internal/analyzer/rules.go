package analyzer

import (
	"sort"

	"github.com/keagan/artcannon/internal/effects"
)

// Thresholds used by the default rule table
const (
	LowLight       = 80.0
	BrightScene    = 150.0
	HighMotion     = 0.08
	StaticMotion   = 0.02
	RichPalette    = 128.0
	SimplePalette  = 64.0
	fallbackWeight = 0.5
)

// Recommendation is one suggested effect
type Recommendation struct {
	Kind       effects.Kind `json:"kind"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
}

// Rule recommends Kind with Confidence when Match holds
type Rule struct {
	Name       string
	Match      func(Metrics) bool
	Kind       effects.Kind
	Confidence float64
	Reason     string
}

// DefaultRules is the stock metrics-to-effect table
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "static-simple-pencil",
			Match:      func(m Metrics) bool { return m.Motion < StaticMotion && m.Diversity < SimplePalette },
			Kind:       effects.Pencil,
			Confidence: 0.85,
			Reason:     "Still footage with a simple palette suits pencil sketching",
		},
		{
			Name:       "static-simple-vintage",
			Match:      func(m Metrics) bool { return m.Motion < StaticMotion && m.Diversity < SimplePalette },
			Kind:       effects.VintageFilm,
			Confidence: 0.7,
			Reason:     "Quiet, muted scenes take well to a film look",
		},
		{
			Name:       "low-light-vintage",
			Match:      func(m Metrics) bool { return m.Brightness < LowLight },
			Kind:       effects.VintageFilm,
			Confidence: 0.8,
			Reason:     "Low light conditions work well with vintage film effects",
		},
		{
			Name:       "busy-colorful-anime",
			Match:      func(m Metrics) bool { return m.Motion > HighMotion && m.Diversity >= SimplePalette },
			Kind:       effects.Anime,
			Confidence: 0.75,
			Reason:     "Fast, colorful content benefits from anime-style simplification",
		},
		{
			Name:       "busy-colorful-cartoon",
			Match:      func(m Metrics) bool { return m.Motion > HighMotion && m.Diversity >= SimplePalette },
			Kind:       effects.Cartoon,
			Confidence: 0.7,
			Reason:     "Flat cartoon shading keeps busy scenes readable",
		},
		{
			Name:       "high-motion-anime",
			Match:      func(m Metrics) bool { return m.Motion > HighMotion },
			Kind:       effects.Anime,
			Confidence: 0.65,
			Reason:     "High motion content benefits from anime-style simplification",
		},
		{
			Name:       "rich-palette-oil",
			Match:      func(m Metrics) bool { return m.Diversity >= RichPalette },
			Kind:       effects.OilPainting,
			Confidence: 0.85,
			Reason:     "Rich color palette suits an oil painting",
		},
		{
			Name:       "bright-watercolor",
			Match:      func(m Metrics) bool { return m.Brightness > BrightScene && m.Diversity >= SimplePalette },
			Kind:       effects.Watercolor,
			Confidence: 0.6,
			Reason:     "Bright, varied scenes wash nicely into watercolor",
		},
		{
			Name:       "simple-palette-pencil",
			Match:      func(m Metrics) bool { return m.Diversity < RichPalette },
			Kind:       effects.Pencil,
			Confidence: 0.6,
			Reason:     "Simple color palette works beautifully with pencil sketches",
		},
	}
}

// Recommend evaluates every rule and returns one entry per matched kind,
// keeping that kind's strongest rule. Results are sorted by descending
// confidence; ties follow effects.Kinds order. When no rule matches a
// general-purpose Cartoon suggestion is returned.
func Recommend(m Metrics, rules []Rule) []Recommendation {
	best := make(map[effects.Kind]Recommendation)
	for _, r := range rules {
		if r.Match == nil || !r.Match(m) {
			continue
		}
		if cur, ok := best[r.Kind]; ok && cur.Confidence >= r.Confidence {
			continue
		}
		best[r.Kind] = Recommendation{Kind: r.Kind, Confidence: clamp01(r.Confidence), Reason: r.Reason}
	}

	if len(best) == 0 {
		return []Recommendation{{
			Kind:       effects.Cartoon,
			Confidence: fallbackWeight,
			Reason:     "No strong signal; cartoon is a safe general-purpose look",
		}}
	}

	order := make(map[effects.Kind]int)
	for i, k := range effects.Kinds() {
		order[k] = i
	}

	out := make([]Recommendation, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return order[out[i].Kind] < order[out[j].Kind]
	})
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
