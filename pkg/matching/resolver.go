package matching

import (
	"context"
	"sort"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Tier is the rule that produced a match
type Tier int

const (
	TierNone Tier = iota
	TierNaturalKey
	TierExactName
	TierSubstring
)

func (t Tier) String() string {
	switch t {
	case TierNaturalKey:
		return "natural_key"
	case TierExactName:
		return "exact_name"
	case TierSubstring:
		return "substring"
	default:
		return "none"
	}
}

// Candidate is the identity of an entity as far as resolution is concerned.
type Candidate struct {
	ID         int64
	Name       string
	NaturalKey *string
}

func FromEntity(e models.CanonicalEntity) Candidate {
	return Candidate{ID: e.ID, Name: e.Name, NaturalKey: e.NaturalKey}
}

func FromEntities(entities []models.CanonicalEntity) []Candidate {
	return ectolinq.Map(entities, FromEntity)
}

// Result of resolving one target. Match is nil when unmatched or ambiguous.
type Result struct {
	Match     *Candidate
	Tier      Tier
	Score     float64
	Ambiguous bool
	// Contenders are the equally ranked candidates behind an ambiguous result, ordered by ID
	Contenders []Candidate
	// Nearest is the most similar candidate by Jaro-Winkler, reported for unmatched targets.
	// NearestEdit is its Levenshtein similarity, logged next to it.
	Nearest      *Candidate
	NearestScore float64
	NearestEdit  float64
}

func (r Result) Matched() bool {
	return r.Match != nil
}

// Err returns a MatchAmbiguousError for ambiguous results and nil otherwise.
func (r Result) Err(kind models.EntityKind, target string) error {
	if !r.Ambiguous {
		return nil
	}
	return ferrors.NewMatchAmbiguousError(string(kind), target, ectolinq.Map(r.Contenders, func(c Candidate) string {
		return c.Name
	}))
}

// Resolver matches a target against existing entities: natural key first, then exact name, then
// substring containment either way ranked by the longest common substring ratio. Ties are unmatched.
type Resolver struct {
	scorer *Scorer
	logger ectologger.Logger
	// minSubstringLen is the shortest name allowed to take part in substring matching
	minSubstringLen int
}

func NewResolver(logger ectologger.Logger) *Resolver {
	return &Resolver{
		scorer:          NewScorer(),
		logger:          logger,
		minSubstringLen: 3,
	}
}

// WithMinSubstringLen sets the shortest name that may match by containment. Values below 1 are ignored.
func (r *Resolver) WithMinSubstringLen(n int) *Resolver {
	if n < 1 {
		return r
	}
	r.minSubstringLen = n
	return r
}

// Resolve returns at most one match for target. The result does not depend on candidate order.
func (r *Resolver) Resolve(ctx context.Context, target Candidate, candidates []Candidate) Result {
	result := r.resolve(target, candidates)

	if !result.Matched() {
		fields := map[string]any{
			"target":     target.Name,
			"candidates": len(candidates),
			"ambiguous":  result.Ambiguous,
		}
		if result.Nearest != nil {
			fields["nearest"] = result.Nearest.Name
			fields["nearest_score"] = result.NearestScore
			fields["nearest_edit"] = result.NearestEdit
		}
		if result.Ambiguous {
			fields["contenders"] = ectolinq.Map(result.Contenders, func(c Candidate) string { return c.Name })
		}
		r.logger.WithContext(ctx).WithFields(fields).Info("Entity unmatched")
	}
	return result
}

func (r *Resolver) resolve(target Candidate, candidates []Candidate) Result {
	targetKey := normalizeKey(target.NaturalKey)
	pool := candidates

	if targetKey != "" {
		var byKey, keyless []Candidate
		for _, c := range candidates {
			switch normalizeKey(c.NaturalKey) {
			case targetKey:
				byKey = append(byKey, c)
			case "":
				keyless = append(keyless, c)
			}
		}
		if res, done := single(byKey, TierNaturalKey, 1.0); done {
			return res
		}
		// a candidate carrying a different key is a different entity
		pool = keyless
	}

	name := models.NameKey(target.Name)
	if name == "" {
		return Result{}
	}

	var exact []Candidate
	for _, c := range pool {
		if models.NameKey(c.Name) == name {
			exact = append(exact, c)
		}
	}
	if res, done := single(exact, TierExactName, 1.0); done {
		return res
	}

	bestScore := -1.0
	var best []Candidate
	for _, c := range pool {
		cname := models.NameKey(c.Name)
		if min(len([]rune(cname)), len([]rune(name))) < r.minSubstringLen || !r.scorer.Contains(cname, name) {
			continue
		}
		score := r.scorer.SubstringRatio(cname, name)
		switch {
		case score > bestScore:
			bestScore = score
			best = []Candidate{c}
		case score == bestScore:
			best = append(best, c)
		}
	}
	if res, done := single(best, TierSubstring, bestScore); done {
		return res
	}

	res := Result{}
	for _, c := range pool {
		score := r.scorer.JaroWinkler(models.NameKey(c.Name), name)
		if res.Nearest == nil || score > res.NearestScore || (score == res.NearestScore && c.ID < res.Nearest.ID) {
			cc := c
			res.Nearest = &cc
			res.NearestScore = score
		}
	}
	if res.Nearest != nil {
		res.NearestEdit = r.scorer.Levenshtein(models.NameKey(res.Nearest.Name), name)
	}
	return res
}

// single decides a tier: one candidate matches, several are ambiguous, none falls through.
func single(found []Candidate, tier Tier, score float64) (Result, bool) {
	switch len(found) {
	case 0:
		return Result{}, false
	case 1:
		match := found[0]
		return Result{Match: &match, Tier: tier, Score: score}, true
	default:
		contenders := append([]Candidate(nil), found...)
		sort.Slice(contenders, func(i, j int) bool { return contenders[i].ID < contenders[j].ID })
		return Result{Tier: tier, Score: score, Ambiguous: true, Contenders: contenders}, true
	}
}

func normalizeKey(key *string) string {
	if k := models.NormalizeKey(key); k != nil {
		return *k
	}
	return ""
}
