package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Target Schemas --

// TargetKind names the semantic action a caller wants performed.
type TargetKind string

const (
	KindVariantSelect  TargetKind = "VariantSelect"
	KindButtonClick    TargetKind = "ButtonClick"
	KindFieldFill      TargetKind = "FieldFill"
	KindQuantityAdjust TargetKind = "QuantityAdjust"
)

// ParseTargetKind accepts the canonical names plus the short CLI forms.
func ParseTargetKind(s string) (TargetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "variantselect", "variant", "select":
		return KindVariantSelect, nil
	case "buttonclick", "button", "click":
		return KindButtonClick, nil
	case "fieldfill", "field", "fill":
		return KindFieldFill, nil
	case "quantityadjust", "quantity", "qty":
		return KindQuantityAdjust, nil
	}
	return "", fmt.Errorf("%w: unknown target kind %q", ErrInvalidTarget, s)
}

// Quantity step directions accepted as QuantityAdjust values.
const (
	QuantityIncrease = "increase"
	QuantityDecrease = "decrease"
)

// TargetDescriptor is the caller's semantic description of what to find and do.
// It is treated as immutable for the duration of a resolution.
type TargetDescriptor struct {
	Kind TargetKind `json:"kind"`
	// Attribute qualifies the target: the variant dimension ("size", "color") or,
	// for FieldFill, the field being filled ("email").
	Attribute string `json:"attribute,omitempty"`
	// Value is the option to pick, the button text, the text to type, or the quantity.
	Value         string `json:"value"`
	ScopeSelector string `json:"scopeSelector,omitempty"`
}

// Validate rejects descriptors the engine cannot act on.
func (t TargetDescriptor) Validate() error {
	switch t.Kind {
	case KindVariantSelect, KindButtonClick, KindQuantityAdjust:
		if strings.TrimSpace(t.Value) == "" {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidTarget, t.Kind)
		}
	case KindFieldFill:
		if strings.TrimSpace(t.Attribute) == "" {
			return fmt.Errorf("%w: FieldFill requires an attribute naming the field", ErrInvalidTarget)
		}
	default:
		return fmt.Errorf("%w: unknown target kind %q", ErrInvalidTarget, t.Kind)
	}
	return nil
}

// MatchKey is the text the discovery strategies look for on the page.
func (t TargetDescriptor) MatchKey() string {
	switch t.Kind {
	case KindFieldFill:
		return t.Attribute
	case KindQuantityAdjust:
		if step := t.StepDirection(); step != "" {
			return step
		}
		return "quantity"
	}
	return t.Value
}

// StepDirection returns QuantityIncrease or QuantityDecrease for stepper
// targets ("increase", "+", ...) and "" otherwise.
func (t TargetDescriptor) StepDirection() string {
	if t.Kind != KindQuantityAdjust {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(t.Value)) {
	case QuantityIncrease, "+":
		return QuantityIncrease
	case QuantityDecrease, "-":
		return QuantityDecrease
	}
	return ""
}

// IsQuantityStep reports whether a QuantityAdjust target asks for a stepper click
// rather than an absolute quantity.
func (t TargetDescriptor) IsQuantityStep() bool {
	return t.StepDirection() != ""
}

// String is used as a log field and as part of the escalation ledger key.
func (t TargetDescriptor) String() string {
	return fmt.Sprintf("%s[%s=%s]@%s", t.Kind, t.Attribute, t.Value, t.ScopeSelector)
}

// -- Discovery & Scoring Schemas --

// StrategyKind identifies one discovery strategy in the escalation cascade.
type StrategyKind string

const (
	StrategyVisualOverlay StrategyKind = "VisualOverlay"
	StrategyPatternMatch  StrategyKind = "PatternMatch"
	StrategyDOMTree       StrategyKind = "DOMTree"
	StrategyOCR           StrategyKind = "OCR"
)

// SignalSource names where a piece of candidate text came from.
type SignalSource string

const (
	SignalText         SignalSource = "text"
	SignalAriaLabel    SignalSource = "aria-label"
	SignalTitle        SignalSource = "title"
	SignalAlt          SignalSource = "alt"
	SignalData         SignalSource = "data"
	SignalOption       SignalSource = "option"
	SignalLabel        SignalSource = "label"
	SignalValue        SignalSource = "value"
	SignalPlaceholder  SignalSource = "placeholder"
	SignalName         SignalSource = "name"
	SignalID           SignalSource = "id"
	SignalType         SignalSource = "type"
	SignalAutocomplete SignalSource = "autocomplete"
	// SignalPattern is text a structural pattern attributes to a node it
	// recognised by shape, such as "quantity" for a qty input.
	SignalPattern SignalSource = "pattern"
)

// Signal is one piece of text a candidate can be matched on.
type Signal struct {
	Source SignalSource `json:"source"`
	Text   string       `json:"text"`
	// Detail carries the attribute name for data-* signals or the option value for selects.
	Detail string `json:"detail,omitempty"`
}

// CandidateElement is a live node considered as a possible match for a target.
type CandidateElement struct {
	Element  ElementSnapshot `json:"element"`
	Strategy StrategyKind    `json:"strategy"`
	// Pattern is the structural pattern that produced the candidate, if any.
	Pattern string `json:"pattern,omitempty"`
	// Origin is the descendant whose text matched when the candidate is an
	// interactive ancestor of the matching node.
	Origin *ElementSnapshot `json:"origin,omitempty"`
	// Hint is extra matchable text supplied by the pattern that recognised the node.
	Hint        *Signal `json:"hint,omitempty"`
	Order       int     `json:"order"`
	Interactive bool    `json:"interactive"`
	Fingerprint string  `json:"fingerprint"`
}

// Summary returns the compact form used in diagnostics.
func (c CandidateElement) Summary() ElementSummary {
	return ElementSummary{
		Ref:         c.Element.Ref,
		Tag:         c.Element.Tag,
		Text:        truncate(c.Element.Text, 80),
		Fingerprint: c.Fingerprint,
		Pattern:     c.Pattern,
	}
}

// MatchLevel grades how a signal matched the target text.
type MatchLevel string

const (
	MatchNone     MatchLevel = "none"
	MatchExact    MatchLevel = "exact"
	MatchPhrase   MatchLevel = "phrase"
	MatchAllWords MatchLevel = "all_words"
	MatchPartial  MatchLevel = "partial_words"
)

// MatchedSignal records which signal won and how well.
type MatchedSignal struct {
	Signal Signal     `json:"signal"`
	Level  MatchLevel `json:"level"`
}

// MatchResult is a scored candidate. Confidence runs 0 to 100.
type MatchResult struct {
	Candidate     CandidateElement `json:"candidate"`
	Confidence    int              `json:"confidence"`
	Strategy      StrategyKind     `json:"strategy"`
	MatchedSignal MatchedSignal    `json:"matchedSignal"`
}

// -- Action Schemas --

// TacticKind identifies one interaction method in the action cascade.
type TacticKind string

const (
	TacticDirectInvoke     TacticKind = "DirectInvoke"
	TacticFocusInvoke      TacticKind = "FocusInvoke"
	TacticPointerSequence  TacticKind = "PointerSequence"
	TacticSetChecked       TacticKind = "SetChecked"
	TacticParentClimb      TacticKind = "ParentClimb"
	TacticLabelAssociation TacticKind = "LabelAssociation"
)

// ActionAttempt records one tactic. SucceededSyntactically means the tactic ran
// without error, not that the intended effect occurred.
type ActionAttempt struct {
	TacticIndex            int        `json:"tacticIndex"`
	Tactic                 TacticKind `json:"tactic"`
	SucceededSyntactically bool       `json:"succeededSyntactically"`
	Skipped                bool       `json:"skipped,omitempty"`
	// Node is the node the tactic finally dispatched against, which differs from
	// the candidate for the climb and label tactics.
	Node  NodeRef `json:"node,omitempty"`
	Error string  `json:"error,omitempty"`
}

// -- Verification Schemas --

// VerificationMethod names the check that confirmed (or last attempted to confirm) an effect.
type VerificationMethod string

const (
	VerifyNone             VerificationMethod = "none"
	VerifyURL              VerificationMethod = "url"
	VerifySelectValue      VerificationMethod = "select_value"
	VerifyCheckedInput     VerificationMethod = "checked_input"
	VerifySelectedMarker   VerificationMethod = "selected_marker"
	VerifyReadout          VerificationMethod = "readout"
	VerifyFieldValue       VerificationMethod = "field_value"
	VerifyActionDispatched VerificationMethod = "action_dispatched"
	VerifyOCR              VerificationMethod = "ocr"
)

// ObservedElement is a diagnostic view of page state after an action.
type ObservedElement struct {
	Ref    NodeRef `json:"ref"`
	Tag    string  `json:"tag"`
	Text   string  `json:"text,omitempty"`
	Value  string  `json:"value,omitempty"`
	Marker string  `json:"marker,omitempty"`
}

// VerificationEvidence is the snapshot returned when verification fails.
type VerificationEvidence struct {
	CheckedInputs    []ObservedElement `json:"checkedInputs"`
	SelectedElements []ObservedElement `json:"selectedElements"`
	URL              string            `json:"url,omitempty"`
}

// VerificationOutcome is the verdict on whether the semantic effect occurred.
type VerificationOutcome struct {
	Verified            bool                  `json:"verified"`
	Method              VerificationMethod    `json:"method"`
	ActualObservedValue string                `json:"actualObservedValue,omitempty"`
	Evidence            *VerificationEvidence `json:"evidence,omitempty"`
}

// VisualVerdict is the OCR collaborator's answer.
type VisualVerdict struct {
	Verified   bool   `json:"verified"`
	Transcript string `json:"transcript,omitempty"`
	Tier       string `json:"tier,omitempty"`
}

// -- Coordinator Schemas --

// State is a coordinator state.
type State string

const (
	StateIdle        State = "Idle"
	StateDiscovering State = "Discovering"
	StateScoring     State = "Scoring"
	StateActing      State = "Acting"
	StateVerifying   State = "Verifying"
	StateSucceeded   State = "Succeeded"
	StateFailed      State = "Failed"
)

// Transition is one recorded state change.
type Transition struct {
	From     State        `json:"from"`
	To       State        `json:"to"`
	Strategy StrategyKind `json:"strategy,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// FailureKind classifies an unsuccessful resolution.
type FailureKind string

const (
	FailureNone                   FailureKind = ""
	FailureNoCandidateFound       FailureKind = "NoCandidateFound"
	FailureActionTacticsExhausted FailureKind = "ActionTacticsExhausted"
	FailureVerificationFailed     FailureKind = "VerificationFailed"
	FailureScopeNotFound          FailureKind = "ScopeNotFound"
	FailureHostUnavailable        FailureKind = "HostUnavailable"
	FailureTimedOut               FailureKind = "TimedOut"
)

// ElementSummary is the compact candidate form carried in diagnostics.
type ElementSummary struct {
	Ref         NodeRef `json:"ref"`
	Tag         string  `json:"tag"`
	Text        string  `json:"text,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
	Pattern     string  `json:"pattern,omitempty"`
}

// NearMatch is a scored candidate that was not acted upon.
type NearMatch struct {
	Element    ElementSummary `json:"element"`
	Strategy   StrategyKind   `json:"strategy"`
	Confidence int            `json:"confidence"`
	Signal     MatchedSignal  `json:"signal"`
	Reason     string         `json:"reason"`
}

// ExcludedCandidate is a candidate dropped by an exclusion zone before scoring.
type ExcludedCandidate struct {
	Element  ElementSummary `json:"element"`
	Strategy StrategyKind   `json:"strategy"`
	Zone     string         `json:"zone"`
	Marker   string         `json:"marker"`
}

// Diagnostics accompanies every result so the caller can replan.
type Diagnostics struct {
	StrategiesTried []StrategyKind      `json:"strategiesTried"`
	Transitions     []Transition        `json:"transitions"`
	NearMatches     []NearMatch         `json:"nearMatches,omitempty"`
	Excluded        []ExcludedCandidate `json:"excluded,omitempty"`
	Scrolled        bool                `json:"scrolled,omitempty"`
	VisualCheck     *VisualVerdict      `json:"visualCheck,omitempty"`
	HostError       string              `json:"hostError,omitempty"`
	// ResumedFrom is set when an earlier verification failure moved the starting strategy.
	ResumedFrom StrategyKind `json:"resumedFrom,omitempty"`
}

// Result is the structured outcome of one ResolveAndAct call.
type Result struct {
	ID           string               `json:"id"`
	Target       TargetDescriptor     `json:"target"`
	PageURL      string               `json:"pageUrl"`
	Success      bool                 `json:"success"`
	Failure      FailureKind          `json:"failure,omitempty"`
	StrategyUsed StrategyKind         `json:"strategyUsed,omitempty"`
	Match        *MatchResult         `json:"match,omitempty"`
	Attempts     []ActionAttempt      `json:"attempts,omitempty"`
	Verification *VerificationOutcome `json:"verification,omitempty"`
	Diagnostics  Diagnostics          `json:"diagnostics"`
	StartedAt    time.Time            `json:"startedAt"`
	Duration     time.Duration        `json:"duration"`
}

// TacticIndex returns the 1-based index of the tactic that succeeded, or 0.
func (r *Result) TacticIndex() int {
	for _, a := range r.Attempts {
		if a.SucceededSyntactically {
			return a.TacticIndex
		}
	}
	return 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
