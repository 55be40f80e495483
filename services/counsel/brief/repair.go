// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package brief

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dharmadesk/dharmadesk/services/counsel/datatypes"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// RepairConfig configures the Repairer.
type RepairConfig struct {
	// IDPrefix is the canonical id prefix.
	// Default: "BG"
	IDPrefix string

	// ReviewThreshold forces the scholar-review flag when the final
	// confidence falls below it.
	// Default: 0.6
	ReviewThreshold float64

	// LowConfidence is assigned when the model's confidence is missing or
	// out of range. Assigning it always forces the scholar-review flag.
	// Default: 0.4
	LowConfidence float64

	// KeepExtraOptions keeps options beyond the expected three instead of
	// truncating. Extras are logged either way.
	// Default: true
	KeepExtraOptions bool

	// Logger for repair warnings.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultRepairConfig returns sensible defaults.
func DefaultRepairConfig() RepairConfig {
	return RepairConfig{
		IDPrefix:         DefaultIDPrefix,
		ReviewThreshold:  0.6,
		LowConfidence:    0.4,
		KeepExtraOptions: true,
		Logger:           slog.Default(),
	}
}

// applyDefaults fills in zero values with defaults.
func (c *RepairConfig) applyDefaults() {
	defaults := DefaultRepairConfig()
	if c.IDPrefix == "" {
		c.IDPrefix = defaults.IDPrefix
	}
	if c.ReviewThreshold == 0 {
		c.ReviewThreshold = defaults.ReviewThreshold
	}
	if c.LowConfidence == 0 {
		c.LowConfidence = defaults.LowConfidence
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// -----------------------------------------------------------------------------
// Generic content
// -----------------------------------------------------------------------------

// ExpectedOptions is the number of options the wire contract promises.
const ExpectedOptions = 3

const placeholderSummary = "A complete synthesis could not be formed from the available material. " +
	"Consider the reflective options below and consult a scholar before acting."

const placeholderDescription = "No description was provided for this course of action."

// genericOptions seed synthetic fill and the policy-violation brief. Order
// matters: fill appends them positionally so repeated repairs are stable.
var genericOptions = [ExpectedOptions]datatypes.Option{
	{
		Title:       "Pause and reflect",
		Description: "Step back from the urgency of the situation and examine which duty is truly yours before acting.",
		Pros:        []string{"Prevents a reactive decision", "Creates room to see all stakeholders"},
		Cons:        []string{"Delays resolution"},
	},
	{
		Title:       "Seek wise counsel",
		Description: "Bring the dilemma to a trusted mentor or scholar and test your reasoning against theirs.",
		Pros:        []string{"Surfaces blind spots", "Shares the weight of the decision"},
		Cons:        []string{"Requires disclosing the situation"},
	},
	{
		Title:       "Act on duty, release the outcome",
		Description: "Identify the action your role obliges and perform it without attachment to how it is received.",
		Pros:        []string{"Aligns action with principle", "Reduces anxiety over results"},
		Cons:        []string{"May carry a short-term personal cost"},
	},
}

// GenericReflectiveOptions returns a fresh copy of the three generic options
// with empty source lists.
func GenericReflectiveOptions() []datatypes.Option {
	options := make([]datatypes.Option, ExpectedOptions)
	for i, opt := range genericOptions {
		opt.Pros = append([]string(nil), opt.Pros...)
		opt.Cons = append([]string(nil), opt.Cons...)
		opt.Sources = []string{}
		options[i] = opt
	}
	return options
}

// FallbackBrief is the fixed "reflect and retry later" template returned when
// every generation path is exhausted.
func FallbackBrief() datatypes.AdvisoryBrief {
	return datatypes.AdvisoryBrief{
		ExecutiveSummary: "The counsel service could not reach a generation provider. " +
			"The options below are generic; please retry later for a tailored brief.",
		Options: GenericReflectiveOptions(),
		RecommendedAction: datatypes.RecommendedAction{
			Option:  0,
			Steps:   []string{"Write the dilemma down in your own words", "Retry the consultation later"},
			Sources: []string{},
		},
		ReflectionPrompts: []string{
			"What duty of yours is at stake here?",
			"Who bears the consequences of each choice?",
		},
		Sources:     []datatypes.SourceRef{},
		Confidence:  0.1,
		ScholarFlag: true,
	}
}

// PolicyViolationBrief is the fixed template returned when the provider
// refused the request on policy grounds.
func PolicyViolationBrief() datatypes.AdvisoryBrief {
	return datatypes.AdvisoryBrief{
		ExecutiveSummary: "This consultation could not be advised on directly. " +
			"The reflective options below are offered in place of specific guidance.",
		Options: GenericReflectiveOptions(),
		RecommendedAction: datatypes.RecommendedAction{
			Option:  0,
			Steps:   []string{"Reconsider how the dilemma is framed", "Seek guidance from a qualified person"},
			Sources: []string{},
		},
		ReflectionPrompts: []string{
			"Is there a way to pursue your aim that harms no one?",
		},
		Sources:         []datatypes.SourceRef{},
		Confidence:      0.0,
		ScholarFlag:     true,
		PolicyViolation: true,
	}
}

// -----------------------------------------------------------------------------
// Repairer
// -----------------------------------------------------------------------------

// Repairer turns the raw extracted object into a conforming AdvisoryBrief.
//
// Repair never fails: validation problems are corrected with safe defaults
// because at this stage a best-effort answer is more valuable than none.
// Repair is idempotent; feeding a repaired brief back yields the same brief.
//
// Thread Safety: Safe for concurrent use after construction.
type Repairer struct {
	config RepairConfig
	ids    *IDValidator
	logger *slog.Logger
}

// NewRepairer creates a Repairer, applying config defaults.
func NewRepairer(config RepairConfig) *Repairer {
	config.applyDefaults()
	return &Repairer{
		config: config,
		ids:    NewIDValidator(config.IDPrefix),
		logger: config.Logger.With(slog.String("component", "brief_repairer")),
	}
}

// IDs exposes the canonical id validator.
func (r *Repairer) IDs() *IDValidator {
	return r.ids
}

// ReviewThreshold returns the configured scholar-review threshold.
func (r *Repairer) ReviewThreshold() float64 {
	return r.config.ReviewThreshold
}

// Repair validates and repairs a raw extracted object against the advisory
// brief schema. retrieved supplies passages for synthetic option fill; it may
// be nil.
func (r *Repairer) Repair(raw map[string]any, retrieved []datatypes.Passage) datatypes.AdvisoryBrief {
	if raw == nil {
		raw = map[string]any{}
	}

	out := datatypes.AdvisoryBrief{
		ExecutiveSummary:  r.repairSummary(raw["executive_summary"]),
		Sources:           r.repairSources(raw["sources"]),
		ReflectionPrompts: stringList(raw["reflection_prompts"]),
	}

	out.Options = r.repairOptions(raw["options"])
	r.fillOptions(&out, retrieved)
	out.RecommendedAction = r.repairAction(raw["recommended_action"], len(out.Options))

	confidence, confidenceValid := asNumber(raw["confidence"])
	forced := false
	if !confidenceValid || confidence < 0 || confidence > 1 {
		confidence = r.config.LowConfidence
		forced = true
	}
	out.Confidence = confidence

	scholar, _ := raw["scholar_flag"].(bool)
	out.ScholarFlag = scholar || forced || confidence < r.config.ReviewThreshold

	if violation, ok := raw["policy_violation"].(bool); ok {
		out.PolicyViolation = violation
	}

	return out
}

// repairSummary coerces the executive summary to a non-empty string.
func (r *Repairer) repairSummary(v any) string {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return placeholderSummary
}

// repairSources keeps only root source refs with a valid canonical id, a
// non-empty paraphrase and a relevance in [0, 1]. Invalid entries are dropped,
// not replaced.
func (r *Repairer) repairSources(v any) []datatypes.SourceRef {
	out := []datatypes.SourceRef{}
	entries, ok := v.([]any)
	if !ok {
		return out
	}
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["canonical_id"].(string)
		paraphrase, _ := m["paraphrase"].(string)
		relevance, numOK := asNumber(m["relevance"])
		if !r.ids.Valid(id) || strings.TrimSpace(paraphrase) == "" || !numOK || relevance < 0 || relevance > 1 {
			r.logger.Debug("dropping invalid source ref", slog.String("canonical_id", id))
			continue
		}
		out = append(out, datatypes.SourceRef{
			CanonicalID: id,
			Paraphrase:  paraphrase,
			Relevance:   relevance,
		})
	}
	return out
}

// repairOptions coerces each structurally salvageable option; non-object
// entries are dropped and field-level problems are defaulted.
func (r *Repairer) repairOptions(v any) []datatypes.Option {
	out := []datatypes.Option{}
	entries, ok := v.([]any)
	if !ok {
		return out
	}
	for i, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			r.logger.Debug("dropping non-object option", slog.Int("index", i))
			continue
		}
		opt := datatypes.Option{
			Pros:    stringList(m["pros"]),
			Cons:    stringList(m["cons"]),
			Sources: r.validIDList(m["sources"]),
		}
		if title, ok := m["title"].(string); ok && strings.TrimSpace(title) != "" {
			opt.Title = title
		} else {
			opt.Title = fmt.Sprintf("Option %d", len(out)+1)
		}
		if desc, ok := m["description"].(string); ok && strings.TrimSpace(desc) != "" {
			opt.Description = desc
		} else {
			opt.Description = placeholderDescription
		}
		out = append(out, opt)
	}
	return out
}

// fillOptions pads the option list to exactly three using the generic options
// and the first unused retrieved sources. More than three options are kept
// (or truncated, per config) but always logged.
func (r *Repairer) fillOptions(b *datatypes.AdvisoryBrief, retrieved []datatypes.Passage) {
	if len(b.Options) > ExpectedOptions {
		if r.config.KeepExtraOptions {
			r.logger.Warn("model returned more than the expected options, keeping all",
				slog.Int("count", len(b.Options)))
			return
		}
		r.logger.Warn("model returned more than the expected options, truncating",
			slog.Int("count", len(b.Options)))
		b.Options = b.Options[:ExpectedOptions]
		return
	}
	if len(b.Options) == ExpectedOptions {
		return
	}

	used := map[string]bool{}
	for _, opt := range b.Options {
		for _, id := range opt.Sources {
			used[id] = true
		}
	}

	unused := []datatypes.Passage{}
	for _, p := range retrieved {
		if r.ids.Valid(p.CanonicalID) && !used[p.CanonicalID] {
			unused = append(unused, p)
		}
	}

	r.logger.Warn("padding brief with synthetic options",
		slog.Int("present", len(b.Options)),
		slog.Int("unused_sources", len(unused)))

	for len(b.Options) < ExpectedOptions {
		synthetic := genericOptions[len(b.Options)]
		synthetic.Pros = append([]string(nil), synthetic.Pros...)
		synthetic.Cons = append([]string(nil), synthetic.Cons...)
		synthetic.Sources = []string{}
		if len(unused) > 0 {
			p := unused[0]
			unused = unused[1:]
			synthetic.Sources = []string{p.CanonicalID}
			r.ensureRootSource(b, p)
		}
		b.Options = append(b.Options, synthetic)
	}
}

// ensureRootSource appends a root ref for the passage unless one exists.
func (r *Repairer) ensureRootSource(b *datatypes.AdvisoryBrief, p datatypes.Passage) {
	for _, ref := range b.Sources {
		if ref.CanonicalID == p.CanonicalID {
			return
		}
	}
	paraphrase := p.Paraphrase()
	if paraphrase == "" {
		paraphrase = truncate(p.Text, 140)
	}
	if paraphrase == "" {
		paraphrase = "Retrieved reference passage."
	}
	relevance := p.Relevance
	if relevance < 0 {
		relevance = 0
	}
	if relevance > 1 {
		relevance = 1
	}
	b.Sources = append(b.Sources, datatypes.SourceRef{
		CanonicalID: p.CanonicalID,
		Paraphrase:  paraphrase,
		Relevance:   relevance,
	})
}

// repairAction coerces the recommended action; an out-of-range option index
// falls back to the first option.
func (r *Repairer) repairAction(v any, optionCount int) datatypes.RecommendedAction {
	out := datatypes.RecommendedAction{
		Steps:   []string{},
		Sources: []string{},
	}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	if idx, ok := asNumber(m["option"]); ok {
		i := int(idx)
		if i >= 0 && i < optionCount && idx == float64(i) {
			out.Option = i
		}
	}
	out.Steps = stringList(m["steps"])
	out.Sources = r.validIDList(m["sources"])
	return out
}

// validIDList keeps only syntactically valid canonical ids.
func (r *Repairer) validIDList(v any) []string {
	out := []string{}
	for _, s := range stringList(v) {
		if r.ids.Valid(s) {
			out = append(out, s)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Coercion helpers
// -----------------------------------------------------------------------------

// stringList coerces an untrusted value to a list of strings, keeping only
// string elements. Anything else becomes an empty list.
func stringList(v any) []string {
	out := []string{}
	entries, ok := v.([]any)
	if !ok {
		return out
	}
	for _, entry := range entries {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asNumber accepts the numeric types encoding/json may produce.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
