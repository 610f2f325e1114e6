package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/david/contract-finder/internal/models"
)

// ErrMalformedResponse is returned when the model output is not the JSON
// object the prompt asked for, or carries out-of-range values.
var ErrMalformedResponse = errors.New("malformed model response")

type analysisPayload struct {
	Summary            string   `json:"summary"`
	KeyRequirements    []string `json:"key_requirements"`
	Keywords           []string `json:"keywords"`
	Strengths          []string `json:"strengths"`
	Concerns           []string `json:"concerns"`
	FitScore           *int     `json:"fit_score"`
	ServiceCategory    string   `json:"service_category"`
	RecommendedActions []string `json:"recommended_actions"`
}

type likelihoodPayload struct {
	Score           *int     `json:"score"`
	Confidence      *float64 `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	Strengths       []string `json:"strengths"`
	Concerns        []string `json:"concerns"`
	RiskFactors     []string `json:"risk_factors"`
	Recommendations []string `json:"recommendations"`
}

func parseAnalysis(resp string) (*models.AIAnalysis, error) {
	var p analysisPayload
	if err := decodeModelJSON(resp, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, fmt.Errorf("%w: summary is empty", ErrMalformedResponse)
	}
	if p.FitScore == nil || *p.FitScore < 0 || *p.FitScore > 100 {
		return nil, fmt.Errorf("%w: fit_score missing or outside 0-100", ErrMalformedResponse)
	}

	return &models.AIAnalysis{
		Summary:            strings.TrimSpace(p.Summary),
		KeyRequirements:    cleanList(p.KeyRequirements),
		Keywords:           cleanList(p.Keywords),
		Strengths:          cleanList(p.Strengths),
		Concerns:           cleanList(p.Concerns),
		FitScore:           *p.FitScore,
		ServiceCategory:    strings.TrimSpace(p.ServiceCategory),
		RecommendedActions: cleanList(p.RecommendedActions),
	}, nil
}

func parseLikelihood(resp string) (*models.AwardLikelihood, error) {
	var p likelihoodPayload
	if err := decodeModelJSON(resp, &p); err != nil {
		return nil, err
	}
	if p.Score == nil || *p.Score < 0 || *p.Score > 100 {
		return nil, fmt.Errorf("%w: score missing or outside 0-100", ErrMalformedResponse)
	}
	confidence := 0.0
	if p.Confidence != nil {
		confidence = *p.Confidence
	}
	// Some models answer confidence as a percentage.
	if confidence > 1 && confidence <= 100 {
		confidence /= 100
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence outside 0-1", ErrMalformedResponse)
	}

	return &models.AwardLikelihood{
		Score:           *p.Score,
		Confidence:      confidence,
		Reasoning:       strings.TrimSpace(p.Reasoning),
		Strengths:       cleanList(p.Strengths),
		Concerns:        cleanList(p.Concerns),
		RiskFactors:     cleanList(p.RiskFactors),
		Recommendations: cleanList(p.Recommendations),
	}, nil
}

// decodeModelJSON strips markdown fences and decodes the first JSON object in
// resp into out.
func decodeModelJSON(resp string, out interface{}) error {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	jsonStr, ok := extractFirstJSONObject(cleaned)
	if !ok {
		return fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// extractFirstJSONObject finds the first outermost balanced {...}
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if char == '{' {
				depth++
			} else if char == '}' {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}

	return "", false
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
