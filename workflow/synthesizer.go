package workflow

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/agrosense/agrosense/types"
)

// SynthesizerConfig holds synthesis tuning.
type SynthesizerConfig struct {
	// ConfidenceFloor discards results below it before merging.
	ConfidenceFloor float64 `json:"confidence_floor" yaml:"confidence_floor"`
	// DedupSimilarity is the token-set Jaccard similarity above which
	// two texts count as the same recommendation.
	DedupSimilarity float64 `json:"dedup_similarity" yaml:"dedup_similarity"`
}

// DefaultSynthesizerConfig returns the default synthesis tuning.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		ConfidenceFloor: 0.3,
		DedupSimilarity: 0.8,
	}
}

func (c SynthesizerConfig) withDefaults() SynthesizerConfig {
	d := DefaultSynthesizerConfig()
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = d.ConfidenceFloor
	}
	if c.DedupSimilarity <= 0 {
		c.DedupSimilarity = d.DedupSimilarity
	}
	return c
}

// Synthesizer merges expert results into one ranked, deduplicated
// answer. The merge is deterministic: the same inputs always produce
// the same FinalAnswer.
type Synthesizer struct {
	config SynthesizerConfig
	logger *zap.Logger
}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer(config SynthesizerConfig, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		config: config.withDefaults(),
		logger: logger.With(zap.String("component", "synthesizer")),
	}
}

// Synthesize merges the agent results for one query: results below the
// confidence floor are discarded, near-duplicate texts collapse onto
// the higher-confidence one, the survivors are ordered by descending
// confidence and every surviving citation is attached. It fails with a
// NO_USABLE_RESULTS coded error when the floor discards everything,
// never with an empty answer.
func (s *Synthesizer) Synthesize(results []types.AgentResult, decision types.RoutingDecision) (types.FinalAnswer, error) {
	kept := make([]types.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Confidence >= s.config.ConfidenceFloor {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return types.FinalAnswer{}, types.NewError(types.ErrCodeNoUsableResults,
			"all %d agent results below confidence floor %.2f", len(results), s.config.ConfidenceFloor)
	}

	// descending confidence; input order breaks ties
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	kept = s.dedupe(kept)

	answer := types.FinalAnswer{QueryID: decision.QueryID}
	var citations []types.Citation
	var parts []string

	for _, r := range kept {
		answer.Contributors = append(answer.Contributors, r.Role)
		answer.Sections = append(answer.Sections, types.AnswerSection{
			Role:       r.Role,
			Text:       r.Text,
			Confidence: r.Confidence,
			Citations:  r.Citations,
		})
		if len(kept) > 1 {
			parts = append(parts, fmt.Sprintf("[%s] %s", r.Role, r.Text))
		} else {
			parts = append(parts, r.Text)
		}
		citations = append(citations, r.Citations...)
	}

	answer.Text = strings.Join(parts, "\n\n")
	answer.Citations = dedupeCitations(citations)

	s.logger.Debug("answer synthesized",
		zap.String("query_id", decision.QueryID),
		zap.Int("inputs", len(results)),
		zap.Int("kept", len(kept)))

	return answer, nil
}

// dedupe collapses near-duplicate result texts. Inputs are already
// confidence-ordered, so the first of a duplicate pair is the one
// kept.
func (s *Synthesizer) dedupe(results []types.AgentResult) []types.AgentResult {
	kept := results[:0:0]
	for _, r := range results {
		dup := false
		for i, k := range kept {
			if jaccard(tokens(r.Text), tokens(k.Text)) >= s.config.DedupSimilarity {
				// fold the duplicate's citations into the survivor;
				// copy first so the caller's slice is never written to
				merged := append([]types.Citation(nil), kept[i].Citations...)
				kept[i].Citations = append(merged, r.Citations...)
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}

func dedupeCitations(citations []types.Citation) []types.Citation {
	seen := make(map[string]struct{}, len(citations))
	out := citations[:0:0]
	for _, c := range citations {
		key := c.Source + "|" + c.URL
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// tokens normalizes text into a lowercase word set.
func tokens(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?()[]«»\"'")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// jaccard is |a∩b| / |a∪b| over word sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
