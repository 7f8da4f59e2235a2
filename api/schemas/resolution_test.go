package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

func TestParseTargetKind(t *testing.T) {
	t.Parallel()
	cases := map[string]schemas.TargetKind{
		"variant":        schemas.KindVariantSelect,
		"VariantSelect":  schemas.KindVariantSelect,
		" select ":       schemas.KindVariantSelect,
		"button":         schemas.KindButtonClick,
		"click":          schemas.KindButtonClick,
		"fill":           schemas.KindFieldFill,
		"FieldFill":      schemas.KindFieldFill,
		"qty":            schemas.KindQuantityAdjust,
		"QuantityAdjust": schemas.KindQuantityAdjust,
	}
	for in, want := range cases {
		got, err := schemas.ParseTargetKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := schemas.ParseTargetKind("hover")
	assert.ErrorIs(t, err, schemas.ErrInvalidTarget)
}

func TestTargetValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		target  schemas.TargetDescriptor
		wantErr bool
	}{
		{"variant with value", schemas.TargetDescriptor{Kind: schemas.KindVariantSelect, Attribute: "size", Value: "L"}, false},
		{"variant without value", schemas.TargetDescriptor{Kind: schemas.KindVariantSelect, Attribute: "size", Value: "  "}, true},
		{"button", schemas.TargetDescriptor{Kind: schemas.KindButtonClick, Value: "Add to cart"}, false},
		{"field needs an attribute", schemas.TargetDescriptor{Kind: schemas.KindFieldFill, Value: "a@b.example"}, true},
		{"field with empty text", schemas.TargetDescriptor{Kind: schemas.KindFieldFill, Attribute: "coupon"}, false},
		{"quantity", schemas.TargetDescriptor{Kind: schemas.KindQuantityAdjust, Value: "+"}, false},
		{"unknown kind", schemas.TargetDescriptor{Kind: "Hover", Value: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, schemas.ErrInvalidTarget)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMatchKeyAndStepDirection(t *testing.T) {
	t.Parallel()
	field := schemas.TargetDescriptor{Kind: schemas.KindFieldFill, Attribute: "email", Value: "a@b.example"}
	assert.Equal(t, "email", field.MatchKey())
	assert.Empty(t, field.StepDirection())

	inc := schemas.TargetDescriptor{Kind: schemas.KindQuantityAdjust, Value: "+"}
	assert.Equal(t, schemas.QuantityIncrease, inc.StepDirection())
	assert.Equal(t, schemas.QuantityIncrease, inc.MatchKey())
	assert.True(t, inc.IsQuantityStep())

	dec := schemas.TargetDescriptor{Kind: schemas.KindQuantityAdjust, Value: " Decrease "}
	assert.Equal(t, schemas.QuantityDecrease, dec.StepDirection())

	absolute := schemas.TargetDescriptor{Kind: schemas.KindQuantityAdjust, Value: "3"}
	assert.False(t, absolute.IsQuantityStep())
	assert.Equal(t, "quantity", absolute.MatchKey())

	button := schemas.TargetDescriptor{Kind: schemas.KindButtonClick, Value: "-"}
	assert.Empty(t, button.StepDirection(), "only quantity targets step")
	assert.Equal(t, "-", button.MatchKey())
}

func TestTargetStringDistinguishesScope(t *testing.T) {
	t.Parallel()
	a := schemas.TargetDescriptor{Kind: schemas.KindVariantSelect, Attribute: "size", Value: "L"}
	b := a
	b.ScopeSelector = "#product-2"
	assert.NotEqual(t, a.String(), b.String())
}

func TestResultTacticIndex(t *testing.T) {
	t.Parallel()
	r := &schemas.Result{Attempts: []schemas.ActionAttempt{
		{TacticIndex: 1, Tactic: schemas.TacticDirectInvoke, Error: "not interactable"},
		{TacticIndex: 2, Tactic: schemas.TacticFocusInvoke, Skipped: true},
		{TacticIndex: 3, Tactic: schemas.TacticPointerSequence, SucceededSyntactically: true},
	}}
	assert.Equal(t, 3, r.TacticIndex())
	assert.Zero(t, (&schemas.Result{}).TacticIndex())
}

func TestCandidateSummaryTruncatesText(t *testing.T) {
	t.Parallel()
	long := make([]rune, 120)
	for i := range long {
		long[i] = 'é'
	}
	c := schemas.CandidateElement{
		Element:     schemas.ElementSnapshot{Tag: "button", Text: string(long)},
		Fingerprint: "fp",
		Pattern:     "swatch",
	}
	s := c.Summary()
	assert.Len(t, []rune(s.Text), 80)
	assert.Equal(t, "fp", s.Fingerprint)
	assert.Equal(t, "swatch", s.Pattern)
}

// The JSON field names are the wire contract with callers that replan on diagnostics.
func TestResultJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    any
		expectedTags map[string]string
	}{
		{
			name:      "Result",
			structRef: schemas.Result{},
			expectedTags: map[string]string{
				"ID":           "id",
				"Target":       "target",
				"PageURL":      "pageUrl",
				"Success":      "success",
				"Failure":      "failure,omitempty",
				"StrategyUsed": "strategyUsed,omitempty",
				"Match":        "match,omitempty",
				"Attempts":     "attempts,omitempty",
				"Verification": "verification,omitempty",
				"Diagnostics":  "diagnostics",
				"StartedAt":    "startedAt",
				"Duration":     "duration",
			},
		},
		{
			name:      "Diagnostics",
			structRef: schemas.Diagnostics{},
			expectedTags: map[string]string{
				"StrategiesTried": "strategiesTried",
				"Transitions":     "transitions",
				"NearMatches":     "nearMatches,omitempty",
				"Excluded":        "excluded,omitempty",
				"Scrolled":        "scrolled,omitempty",
				"VisualCheck":     "visualCheck,omitempty",
				"HostError":       "hostError,omitempty",
				"ResumedFrom":     "resumedFrom,omitempty",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			typ := reflect.TypeOf(tc.structRef)
			assert.Equal(t, len(tc.expectedTags), typ.NumField(), "field count changed for %s", tc.name)
			for fieldName, expectedTag := range tc.expectedTags {
				field, found := typ.FieldByName(fieldName)
				if assert.True(t, found, "field %s not found in %s", fieldName, tc.name) {
					assert.Equal(t, expectedTag, field.Tag.Get("json"), "json tag for %s.%s", tc.name, fieldName)
				}
			}
		})
	}
}
