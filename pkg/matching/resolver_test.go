package matching

import (
	"context"
	"math/rand"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	return NewResolver(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func key(s string) *string { return &s }

func TestResolver_Resolve(t *testing.T) {
	catalog := []Candidate{
		{ID: 1, Name: "Hospital de Caridade", NaturalKey: key("2374560")},
		{ID: 2, Name: "UBS Nova Corumbá"},
		{ID: 3, Name: "Policlínica Municipal"},
		{ID: 4, Name: "UBS Centro"},
		{ID: 5, Name: "UBS Centro Norte"},
		{ID: 6, Name: "Clinica Vida", NaturalKey: key("999")},
	}

	tests := []struct {
		name          string
		target        Candidate
		wantID        int64
		wantTier      Tier
		wantAmbiguous bool
	}{
		{name: "natural key beats name", target: Candidate{Name: "Santa Casa", NaturalKey: key(" 2374560 ")}, wantID: 1, wantTier: TierNaturalKey},
		{name: "exact name ignores case and spacing", target: Candidate{Name: "ubs  nova corumbá"}, wantID: 2, wantTier: TierExactName},
		{name: "target contained in candidate", target: Candidate{Name: "Policlínica"}, wantID: 3, wantTier: TierSubstring},
		{name: "candidate contained in target", target: Candidate{Name: "Policlínica Municipal de Corumbá"}, wantID: 3, wantTier: TierSubstring},
		{name: "longest common substring breaks the tie", target: Candidate{Name: "UBS Centro Nort"}, wantID: 5, wantTier: TierSubstring},
		{name: "exact wins over substring", target: Candidate{Name: "UBS Centro"}, wantID: 4, wantTier: TierExactName},
		{name: "different natural key never matches by name", target: Candidate{Name: "Clinica Vida", NaturalKey: key("123")}, wantTier: TierNone},
		{name: "no match", target: Candidate{Name: "Farmácia Popular"}, wantTier: TierNone},
	}

	r := newTestResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(context.Background(), tt.target, catalog)
			assert.Equal(t, tt.wantAmbiguous, res.Ambiguous)
			if tt.wantID == 0 {
				assert.False(t, res.Matched())
				return
			}
			require.True(t, res.Matched())
			assert.Equal(t, tt.wantID, res.Match.ID)
			assert.Equal(t, tt.wantTier, res.Tier)
		})
	}
}

func TestResolver_EquallyRankedSubstringsAreUnmatched(t *testing.T) {
	catalog := []Candidate{
		{ID: 10, Name: "Farmácia Central Norte"},
		{ID: 11, Name: "Farmácia Central Oeste"},
	}
	// contained in both names, which have the same length
	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "Farmácia Central"}, catalog)

	assert.False(t, res.Matched())
	assert.True(t, res.Ambiguous)
	require.Len(t, res.Contenders, 2)
	assert.Equal(t, int64(10), res.Contenders[0].ID)

	err := res.Err(models.EntityFacility, "Farmácia Central")
	require.Error(t, err)
	assert.True(t, errors.IsMatchAmbiguousError(err))
}

func TestResolver_DuplicateExactNamesAreAmbiguous(t *testing.T) {
	catalog := []Candidate{{ID: 1, Name: "Bar do Zé"}, {ID: 2, Name: "BAR DO ZÉ"}}
	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "bar do zé"}, catalog)
	assert.True(t, res.Ambiguous)
	assert.Equal(t, TierExactName, res.Tier)
	assert.Error(t, res.Err(models.EntityFacility, "bar do zé"))
}

func TestResolver_ShortNamesSkipSubstring(t *testing.T) {
	catalog := []Candidate{{ID: 1, Name: "Bar Central"}}
	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "BA"}, catalog)
	assert.False(t, res.Matched())
	require.NotNil(t, res.Nearest)
	assert.Equal(t, int64(1), res.Nearest.ID)
	assert.Greater(t, res.NearestEdit, 0.0)
}

func TestResolver_MinSubstringLen(t *testing.T) {
	catalog := []Candidate{{ID: 1, Name: "UPA Leste"}}

	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "UPA"}, catalog)
	require.True(t, res.Matched())
	assert.Equal(t, TierSubstring, res.Tier)

	res = newTestResolver().WithMinSubstringLen(4).Resolve(context.Background(), Candidate{Name: "UPA"}, catalog)
	assert.False(t, res.Matched())

	// zero keeps the default
	res = newTestResolver().WithMinSubstringLen(0).Resolve(context.Background(), Candidate{Name: "UPA"}, catalog)
	assert.True(t, res.Matched())
}

func TestResolver_UnmatchedReportsNearest(t *testing.T) {
	catalog := []Candidate{{ID: 1, Name: "Clinica Sorriso"}, {ID: 2, Name: "Hotel Nacional"}}
	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "Clinica Sorrizo"}, catalog)

	assert.False(t, res.Matched())
	require.NotNil(t, res.Nearest)
	assert.Equal(t, int64(1), res.Nearest.ID)
	assert.InDelta(t, 1.0-1.0/15.0, res.NearestEdit, 1e-9)
}

func TestResolver_NaturalKeyCaseInsensitive(t *testing.T) {
	catalog := []Candidate{{ID: 7, Name: "Registro A", NaturalKey: key("AB12")}}
	res := newTestResolver().Resolve(context.Background(), Candidate{Name: "Outro", NaturalKey: key(" ab12")}, catalog)
	require.True(t, res.Matched())
	assert.Equal(t, TierNaturalKey, res.Tier)
}

func TestResolver_OrderIndependent(t *testing.T) {
	catalog := []Candidate{
		{ID: 1, Name: "Hotel Nacional"},
		{ID: 2, Name: "Hotel Nacional Palace"},
		{ID: 3, Name: "Nacional Hotel"},
		{ID: 4, Name: "Pousada Nacional"},
		{ID: 5, Name: "Hotel Nacional Palace Anexo"},
		{ID: 6, Name: "Hotel Laura"},
	}
	targets := []Candidate{
		{Name: "Hotel Nacional Palac"},
		{Name: "Nacional"},
		{Name: "hotel nacional"},
		{Name: "Laura"},
		{Name: "Pousada"},
	}

	r := newTestResolver()
	rng := rand.New(rand.NewSource(42))
	for _, target := range targets {
		baseline := r.Resolve(context.Background(), target, catalog)
		for i := 0; i < 20; i++ {
			shuffled := append([]Candidate(nil), catalog...)
			rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

			got := r.Resolve(context.Background(), target, shuffled)
			assert.Equal(t, baseline.Matched(), got.Matched(), target.Name)
			assert.Equal(t, baseline.Ambiguous, got.Ambiguous, target.Name)
			assert.Equal(t, baseline.Contenders, got.Contenders, target.Name)
			if baseline.Matched() {
				assert.Equal(t, baseline.Match.ID, got.Match.ID, target.Name)
			}
		}
	}
}
