// Package scoring turns discovered candidates into ranked MatchResults.
package scoring

import (
	"sort"
	"strings"
	"unicode"

	"github.com/xkilldash9x/pinpoint/api/schemas"
	"github.com/xkilldash9x/pinpoint/internal/config"
	"github.com/xkilldash9x/pinpoint/internal/resolver/pagewalk"
	"github.com/xkilldash9x/pinpoint/internal/resolver/textmatch"
)

// signalPriority orders signal sources from most to least trusted. A match on
// a later source is discounted by SignalStep per position.
var signalPriority = []schemas.SignalSource{
	schemas.SignalText,
	schemas.SignalAriaLabel,
	schemas.SignalTitle,
	schemas.SignalData,
	schemas.SignalPattern,
	schemas.SignalAlt,
	schemas.SignalLabel,
	schemas.SignalOption,
	schemas.SignalValue,
	schemas.SignalPlaceholder,
	schemas.SignalName,
	schemas.SignalAutocomplete,
	schemas.SignalType,
	schemas.SignalID,
}

var priorityIndex = func() map[schemas.SignalSource]int {
	m := make(map[schemas.SignalSource]int, len(signalPriority))
	for i, s := range signalPriority {
		m[s] = i
	}
	return m
}()

var strategyOrder = map[schemas.StrategyKind]int{
	schemas.StrategyVisualOverlay: 0,
	schemas.StrategyPatternMatch:  1,
	schemas.StrategyDOMTree:       2,
	schemas.StrategyOCR:           3,
}

// Near-match reasons.
const (
	ReasonBelowFloor = "below confidence floor"
	ReasonDisabled   = "disabled"
	ReasonOutranked  = "outranked"
)

const maxNearMatches = 10

// Scorer grades candidates against a target.
type Scorer struct {
	cfg config.ScoringConfig
}

func New(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Floor is the minimum confidence a candidate needs to be acted upon.
func (s *Scorer) Floor() int { return s.cfg.Floor }

// Signals extracts the matchable texts of an element in priority order.
func (s *Scorer) Signals(el schemas.ElementSnapshot) []schemas.Signal {
	var out []schemas.Signal
	add := func(src schemas.SignalSource, text, detail string) {
		if strings.TrimSpace(text) != "" {
			out = append(out, schemas.Signal{Source: src, Text: text, Detail: detail})
		}
	}

	// A select's text is its current value, not what it offers.
	if el.Tag != "select" && !el.IsTextField() {
		add(schemas.SignalText, el.Text, "")
	}
	add(schemas.SignalAriaLabel, el.Attr("aria-label"), "")
	add(schemas.SignalTitle, el.Attr("title"), "")
	for _, name := range sortedKeys(el.Attributes) {
		if !strings.HasPrefix(name, "data-") || name == "data-testid" {
			continue
		}
		if v := el.Attributes[name]; s.usableDataValue(v) {
			add(schemas.SignalData, v, name)
		}
	}
	add(schemas.SignalAlt, el.Attr("alt"), "")
	add(schemas.SignalLabel, el.LabelText, "")
	for _, o := range el.Options {
		if !o.Disabled {
			add(schemas.SignalOption, o.Text, o.Value)
			if o.Value != "" && o.Value != o.Text {
				add(schemas.SignalOption, o.Value, o.Value)
			}
		}
	}
	switch {
	case el.IsChoiceInput():
		add(schemas.SignalValue, el.Attr("value"), "")
	case el.Tag == "input" && (el.InputType() == "submit" || el.InputType() == "button"):
		add(schemas.SignalValue, el.Attr("value"), "")
	}
	add(schemas.SignalPlaceholder, el.Attr("placeholder"), "")
	add(schemas.SignalName, humanize(el.Attr("name")), "")
	add(schemas.SignalAutocomplete, humanize(el.Attr("autocomplete")), "")
	if el.Tag == "input" {
		if t := el.InputType(); t != "text" {
			add(schemas.SignalType, t, "")
		}
	}
	add(schemas.SignalID, humanize(el.Attr("id")), "")
	return out
}

// usableDataValue keeps short, human-looking data attribute values and drops
// long numeric ids and structured payloads.
func (s *Scorer) usableDataValue(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > s.cfg.MaxDataValueLength {
		return false
	}
	if strings.ContainsAny(v, "{[") {
		return false
	}
	digits, letters := 0, 0
	for _, r := range v {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	return !(digits >= s.cfg.MinNumericIDDigits && digits > letters)
}

// BestSignal returns the strongest matching signal of the candidate, looking
// at the originating descendant and the pattern hint as well.
func (s *Scorer) BestSignal(target schemas.TargetDescriptor, c schemas.CandidateElement) schemas.MatchedSignal {
	key := target.MatchKey()
	signals := s.Signals(c.Element)
	if c.Origin != nil {
		signals = append(signals, s.Signals(*c.Origin)...)
	}
	if c.Hint != nil {
		signals = append(signals, *c.Hint)
	}

	best := schemas.MatchedSignal{Level: schemas.MatchNone}
	bestScore := 0
	for _, sig := range signals {
		level := textmatch.Match(key, sig.Text)
		if level == schemas.MatchNone {
			continue
		}
		if score := s.signalScore(level, sig.Source); best.Level == schemas.MatchNone || score > bestScore {
			best = schemas.MatchedSignal{Signal: sig, Level: level}
			bestScore = score
		}
	}
	return best
}

func (s *Scorer) levelScore(level schemas.MatchLevel) int {
	switch level {
	case schemas.MatchExact:
		return s.cfg.ExactScore
	case schemas.MatchPhrase:
		return s.cfg.PhraseScore
	case schemas.MatchAllWords:
		return s.cfg.AllWordsScore
	case schemas.MatchPartial:
		return s.cfg.PartialScore
	}
	return 0
}

func (s *Scorer) signalScore(level schemas.MatchLevel, src schemas.SignalSource) int {
	idx, ok := priorityIndex[src]
	if !ok {
		idx = len(signalPriority)
	}
	return s.levelScore(level) - idx*s.cfg.SignalStep
}

// Score computes a candidate's confidence. Disabled candidates always score 0.
func (s *Scorer) Score(target schemas.TargetDescriptor, c schemas.CandidateElement) schemas.MatchResult {
	res := schemas.MatchResult{Candidate: c, Strategy: c.Strategy}
	res.MatchedSignal = s.BestSignal(target, c)
	if res.MatchedSignal.Level == schemas.MatchNone || pagewalk.IsDisabled(c.Element) {
		return res
	}
	conf := s.signalScore(res.MatchedSignal.Level, res.MatchedSignal.Signal.Source) - s.cfg.StructuralDiscount
	if c.Interactive {
		conf += s.cfg.InteractiveBonus
	}
	if pagewalk.SelectedMarker(c.Element) != "" {
		conf += s.cfg.SelectedBonus
	}
	res.Confidence = clamp(conf, 0, 100)
	return res
}

// Rank scores every candidate and sorts by confidence, then strategy order,
// then discovery order.
func (s *Scorer) Rank(target schemas.TargetDescriptor, candidates []schemas.CandidateElement) []schemas.MatchResult {
	ranked := make([]schemas.MatchResult, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, s.Score(target, c))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if strategyOrder[a.Strategy] != strategyOrder[b.Strategy] {
			return strategyOrder[a.Strategy] < strategyOrder[b.Strategy]
		}
		return a.Candidate.Order < b.Candidate.Order
	})
	return ranked
}

// Select picks the best ranked result at or above the floor and reports the
// rest as near matches.
func (s *Scorer) Select(ranked []schemas.MatchResult) (*schemas.MatchResult, []schemas.NearMatch) {
	var best *schemas.MatchResult
	var near []schemas.NearMatch
	for i := range ranked {
		r := ranked[i]
		reason := ReasonOutranked
		switch {
		case pagewalk.IsDisabled(r.Candidate.Element) && r.MatchedSignal.Level != schemas.MatchNone:
			reason = ReasonDisabled
		case r.Confidence < s.cfg.Floor:
			reason = ReasonBelowFloor
		case best == nil:
			best = &ranked[i]
			continue
		}
		if r.MatchedSignal.Level == schemas.MatchNone || len(near) >= maxNearMatches {
			continue
		}
		near = append(near, schemas.NearMatch{
			Element:    r.Candidate.Summary(),
			Strategy:   r.Strategy,
			Confidence: r.Confidence,
			Signal:     r.MatchedSignal,
			Reason:     reason,
		})
	}
	return best, near
}

// humanize turns identifiers such as "shipping_email" or "firstName" into words.
func humanize(id string) string {
	var b strings.Builder
	var prev rune
	for _, r := range id {
		switch {
		case r == '_' || r == '-' || r == '.' || r == '[' || r == ']':
			b.WriteByte(' ')
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			b.WriteByte(' ')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
