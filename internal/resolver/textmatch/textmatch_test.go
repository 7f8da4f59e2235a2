package textmatch

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  Add to Cart ":      "add to cart",
		"T-Shirt":             "tshirt",
		"Size:\tL\n":          "size l",
		"Crème Brûlée!":       "crème brûlée",
		"":                    "",
		"---":                 "",
		"Change selection to": "change selection to",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
	assert.Equal(t, "addtocart", Compact("Add to Cart"))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		candidate string
		want      schemas.MatchLevel
	}{
		{"exact single token", "L", "l", schemas.MatchExact},
		{"exact ignores punctuation", "X-Large", "xlarge", schemas.MatchExact},
		{"single token never contained", "S", "Small Bag", schemas.MatchNone},
		{"single token not a word member", "M", "Size M", schemas.MatchNone},
		{"phrase containment", "add to cart", "Add to Cart - $29.99", schemas.MatchPhrase},
		{"all words out of order", "navy blue", "Blue (Navy)", schemas.MatchAllWords},
		{"partial word containment", "dark green", "Darkest Greenish", schemas.MatchPartial},
		{"missing word", "add to cart", "add to wishlist", schemas.MatchNone},
		{"one letter fragment does not overlap", "extra large", "x large", schemas.MatchNone},
		{"empty target", "", "anything", schemas.MatchNone},
		{"empty candidate", "L", "", schemas.MatchNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.target, tt.candidate))
		})
	}
}

func TestMentions(t *testing.T) {
	assert.True(t, Mentions("Size: L", "L"))
	assert.True(t, Mentions("Selected colour: Navy Blue", "navy blue"))
	assert.False(t, Mentions("Size: XL", "L"))
	assert.False(t, Mentions("Small Bag", "S"))
	assert.False(t, Mentions("anything", ""))
}

func TestRankOrdering(t *testing.T) {
	assert.Greater(t, Rank(schemas.MatchExact), Rank(schemas.MatchPhrase))
	assert.Greater(t, Rank(schemas.MatchPhrase), Rank(schemas.MatchAllWords))
	assert.Greater(t, Rank(schemas.MatchAllWords), Rank(schemas.MatchPartial))
	assert.Greater(t, Rank(schemas.MatchPartial), Rank(schemas.MatchNone))
}

// FuzzMatch checks the single-token rule and symmetry of exact matches on
// arbitrary input.
func FuzzMatch(f *testing.F) {
	f.Add([]byte("S\x00Small Bag"))
	f.Add([]byte("add to cart\x00Add to Cart"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		target, err := consumer.GetString()
		if err != nil {
			return
		}
		candidate, err := consumer.GetString()
		if err != nil {
			return
		}

		level := Match(target, candidate)
		if len(Words(target)) == 1 && level != schemas.MatchNone && level != schemas.MatchExact {
			t.Fatalf("single token %q matched %q at level %s", target, candidate, level)
		}
		if level == schemas.MatchExact && Match(candidate, target) != schemas.MatchExact {
			t.Fatalf("exact match is not symmetric for %q and %q", target, candidate)
		}
		if Normalize(Normalize(target)) != Normalize(target) {
			t.Fatalf("Normalize is not idempotent for %q", target)
		}
	})
}
