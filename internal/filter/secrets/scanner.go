package secrets

import (
	"context"

	"github.com/af-corp/prompt-gateway/internal/config"
	"github.com/af-corp/prompt-gateway/internal/filter"
)

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string // e.g. "AWS Access Key"
	Start       int    // byte offset
	End         int    // byte offset
}

// Scanner rejects prompts that carry credential-shaped strings.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

// NewScanner creates a scanner with the default secret patterns.
func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "secrets" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Detect checks a single text string for secrets and returns all detections.
func (s *Scanner) Detect(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		locs := p.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			detections = append(detections, Detection{
				PatternName: p.Name,
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return detections
}

// Scan implements filter.Filter. Only the presence of a secret matters, so it
// stops at the first pattern that matches.
func (s *Scanner) Scan(_ context.Context, prompt string) filter.Result {
	for _, p := range s.patterns {
		if p.Regex.MatchString(prompt) {
			return filter.Result{
				Action:     filter.ActionBlock,
				FilterName: "secrets",
				Pattern:    p.Name,
				Message:    "prompt contains a credential (" + p.Name + ")",
			}
		}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: "secrets"}
}
