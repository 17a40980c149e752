// Package intent classifies chat utterances into control commands.
//
// Resolution is a pure function of the utterance, the conversation history and the
// execution state passed in; nothing is fetched or remembered between calls.
package intent

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/journey/pkg/domain"
)

const (
	// DefaultThreshold is the confidence below which an utterance is ordinary input.
	DefaultThreshold = 0.55
	// DefaultFloor is the lowest confidence listed among the alternatives.
	DefaultFloor = 0.3

	tieMargin      = 0.05
	anaphoricBoost = 0.9
)

var reasonMarker = regexp.MustCompile(`(?is)\bbecause\b(.*)`)

// Resolver scores utterances against the command lexicon.
type Resolver struct {
	threshold float64
	floor     float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithThreshold sets the acceptance threshold.
func WithThreshold(v float64) Option {
	return func(r *Resolver) {
		if v > 0 && v <= 1 {
			r.threshold = v
		}
	}
}

// WithFloor sets the alternatives floor.
func WithFloor(v float64) Option {
	return func(r *Resolver) {
		if v >= 0 && v <= 1 {
			r.floor = v
		}
	}
}

// NewResolver creates a resolver with the default threshold and floor.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{threshold: DefaultThreshold, floor: DefaultFloor}
	for _, opt := range opts {
		opt(r)
	}
	if r.floor > r.threshold {
		r.floor = r.threshold
	}
	return r
}

// Threshold returns the acceptance threshold.
func (r *Resolver) Threshold() float64 { return r.threshold }

// Resolve classifies utterance. Commands that drive an action not available in state are discarded.
func (r *Resolver) Resolve(utterance string, history []domain.Message, state *domain.ExecutionState) domain.ResolvedIntent {
	tokens := tokenize(utterance)
	scores := score(tokens)

	if proposed := lastProposal(history); proposed != "" && anaphoric(tokens) {
		if scores[proposed] < anaphoricBoost {
			scores[proposed] = anaphoricBoost
		}
	}

	candidates := make([]domain.Candidate, 0, len(scores))
	for _, cmd := range domain.Commands {
		s, ok := scores[cmd]
		if !ok || s <= 0 || !compatible(cmd, state) {
			continue
		}
		candidates = append(candidates, domain.Candidate{Command: cmd, Confidence: round(s)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) == 0 || candidates[0].Confidence < r.threshold {
		best := 0.0
		if len(candidates) > 0 {
			best = candidates[0].Confidence
		}
		return domain.ResolvedIntent{
			Command:      domain.CommandNone,
			Confidence:   round(1 - best),
			Alternatives: r.alternatives(candidates, domain.CommandNone),
		}
	}

	winner := pickWinner(candidates)
	return domain.ResolvedIntent{
		Command:      winner.Command,
		Confidence:   winner.Confidence,
		Parameters:   parameters(winner.Command, utterance, tokens, state),
		Alternatives: r.alternatives(candidates, winner.Command),
	}
}

// pickWinner takes the earliest command in vocabulary order among those tied with the best score.
func pickWinner(sorted []domain.Candidate) domain.Candidate {
	best := sorted[0]
	bestRank := rank(best.Command)
	for _, c := range sorted[1:] {
		if best.Confidence-c.Confidence > tieMargin {
			break
		}
		if r := rank(c.Command); r < bestRank {
			best, bestRank = c, r
		}
	}
	return best
}

func (r *Resolver) alternatives(sorted []domain.Candidate, chosen domain.Command) []domain.Candidate {
	var out []domain.Candidate
	for _, c := range sorted {
		if c.Command != chosen && c.Confidence >= r.floor {
			out = append(out, c)
		}
	}
	return out
}

func rank(cmd domain.Command) int {
	for i, c := range domain.Commands {
		if c == cmd {
			return i
		}
	}
	return len(domain.Commands)
}

func compatible(cmd domain.Command, state *domain.ExecutionState) bool {
	action, ok := cmd.Action()
	if !ok || state == nil {
		return true
	}
	return state.Can(action)
}

func tokenize(s string) []string {
	s = contractions.Replace(strings.ToLower(s))
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// score returns the best confidence per command. A match contributes its pattern weight,
// scaled by how much of the meaningful part of the utterance it covers.
func score(tokens []string) map[domain.Command]float64 {
	content := 0
	for _, t := range tokens {
		if !filler[t] {
			content++
		}
	}

	scores := make(map[domain.Command]float64)
	for _, cmd := range domain.Commands {
		for _, p := range lexicon[cmd] {
			at := find(tokens, p.tokens)
			if at < 0 || negated(tokens, at) {
				continue
			}
			covered := 0
			for _, t := range p.tokens {
				if !filler[t] {
					covered++
				}
			}
			coverage := 1.0
			if content > 0 {
				coverage = float64(covered) / float64(content)
				if coverage > 1 {
					coverage = 1
				}
			}
			s := p.weight * (0.5 + 0.5*coverage)
			if s > scores[cmd] {
				scores[cmd] = s
			}
		}
	}
	return scores
}

func find(tokens, phrase []string) int {
	if len(phrase) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return i
	}
	return -1
}

func negated(tokens []string, at int) bool {
	for i := at - 1; i >= 0 && i >= at-3; i-- {
		if negators[tokens[i]] {
			return true
		}
	}
	return false
}

func anaphoric(tokens []string) bool {
	if len(tokens) == 0 || len(tokens) > 5 {
		return false
	}
	for _, t := range tokens {
		if !affirmatives[t] {
			return false
		}
	}
	return true
}

func lastProposal(history []domain.Message) domain.Command {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != domain.RoleAssistant {
			continue
		}
		if m.Proposed == "" || m.Proposed == domain.CommandNone {
			return ""
		}
		return m.Proposed
	}
	return ""
}

func parameters(cmd domain.Command, raw string, tokens []string, state *domain.ExecutionState) map[string]string {
	params := make(map[string]string)

	switch cmd {
	case domain.CommandSkip, domain.CommandRetry, domain.CommandExplain, domain.CommandDebug:
		if node := mentionedNode(tokens, state); node != "" {
			params["node"] = node
		}
	case domain.CommandExport:
		for _, t := range tokens {
			if exportFormats[t] {
				params["format"] = t
				break
			}
		}
	}

	if m := reasonMarker.FindStringSubmatch(raw); m != nil {
		if reason := strings.TrimSpace(strings.Trim(m[1], " .!?")); reason != "" {
			params["reason"] = reason
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// mentionedNode returns the first node id of the session that appears in the utterance.
func mentionedNode(tokens []string, state *domain.ExecutionState) string {
	if state == nil {
		return ""
	}
	known := make(map[string]string)
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" {
				known[strings.ToLower(id)] = id
			}
		}
	}
	add(state.CurrentNodeID)
	add(state.History...)
	add(state.CompletedNodes...)
	add(state.FailedNodes...)
	add(state.SkippedNodes...)

	for _, t := range tokens {
		if id, ok := known[t]; ok {
			return id
		}
	}
	return ""
}

func round(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return float64(int(v*1000+0.5)) / 1000
}
