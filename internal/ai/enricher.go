package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/david/contract-finder/internal/config"
	"github.com/david/contract-finder/internal/models"
)

// Enricher produces language-model assessments of an opportunity.
type Enricher interface {
	Analyze(ctx context.Context, opp *models.Opportunity) (*models.AIAnalysis, error)
	ScoreAwardLikelihood(ctx context.Context, opp *models.Opportunity, incumbents []models.HistoricalAward) (*models.AwardLikelihood, error)
}

// Completer sends one system/user prompt pair to a model and returns its
// raw text answer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// PromptEnricher implements Enricher with fixed prompt templates over any
// Completer.
type PromptEnricher struct {
	completer Completer
	now       func() time.Time
}

func NewPromptEnricher(c Completer) *PromptEnricher {
	return &PromptEnricher{completer: c, now: time.Now}
}

func (e *PromptEnricher) Analyze(ctx context.Context, opp *models.Opportunity) (*models.AIAnalysis, error) {
	resp, err := e.completer.Complete(ctx, systemPrompt, analysisPrompt(opp))
	if err != nil {
		return nil, err
	}
	a, err := parseAnalysis(resp)
	if err != nil {
		return nil, err
	}
	a.GeneratedAt = e.now().UTC()
	return a, nil
}

func (e *PromptEnricher) ScoreAwardLikelihood(ctx context.Context, opp *models.Opportunity, incumbents []models.HistoricalAward) (*models.AwardLikelihood, error) {
	resp, err := e.completer.Complete(ctx, systemPrompt, likelihoodPrompt(opp, incumbents))
	if err != nil {
		return nil, err
	}
	l, err := parseLikelihood(resp)
	if err != nil {
		return nil, err
	}
	l.GeneratedAt = e.now().UTC()
	return l, nil
}

// NewEnricher builds the enricher selected by cfg.AIProvider, wrapped in a
// circuit breaker. It returns nil when the provider is not configured.
func NewEnricher(cfg config.Config) Enricher {
	var c Completer
	switch cfg.AIProvider {
	case "ollama":
		if cfg.OllamaHost == "" {
			return nil
		}
		c = NewOllamaClient(cfg.OllamaHost, cfg.OllamaModel, cfg.AITimeout)
	case "openai", "":
		if cfg.OpenAIAPIKey == "" {
			return nil
		}
		c = NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil
	}
	return NewBreakerEnricher(cfg.AIProvider, NewPromptEnricher(c))
}

const systemPrompt = `You are a federal capture manager for a service-disabled veteran-owned small business that delivers cybersecurity, cloud and IT modernization services. You assess government contract opportunities. Respond ONLY with a single JSON object, no markdown.`

const maxPromptDescription = 6000

func analysisPrompt(opp *models.Opportunity) string {
	var b strings.Builder
	writeOpportunity(&b, opp)
	b.WriteString(`
Analyze this opportunity for our firm.

JSON Schema:
{
	"summary": "2-3 sentence neutral summary",
	"key_requirements": ["string"],
	"keywords": ["string"],
	"strengths": ["why we fit"],
	"concerns": ["why we may not fit"],
	"fit_score": integer 0-100,
	"service_category": "cybersecurity" | "cloud" | "software" | "it_services" | "consulting" | "other",
	"recommended_actions": ["string"]
}`)
	return b.String()
}

func likelihoodPrompt(opp *models.Opportunity, incumbents []models.HistoricalAward) string {
	var b strings.Builder
	writeOpportunity(&b, opp)

	b.WriteString("\nRelated historical awards (possible incumbents):\n")
	if len(incumbents) == 0 {
		b.WriteString("- none found\n")
	}
	for _, a := range incumbents {
		fmt.Fprintf(&b, "- %s to %s, %s, $%.0f, NAICS %s", a.AwardID, a.RecipientName, a.Agency, a.TotalObligation, a.NAICSCode)
		if a.PeriodEnd != nil {
			fmt.Fprintf(&b, ", ends %s", a.PeriodEnd.Format(time.DateOnly))
		}
		b.WriteString("\n")
	}

	b.WriteString(`
Estimate our likelihood of winning this award.

JSON Schema:
{
	"score": integer 0-100,
	"confidence": number 0.0-1.0,
	"reasoning": "string",
	"strengths": ["string"],
	"concerns": ["string"],
	"risk_factors": ["string"],
	"recommendations": ["string"]
}`)
	return b.String()
}

func writeOpportunity(b *strings.Builder, opp *models.Opportunity) {
	fmt.Fprintf(b, "Title: %s\n", opp.Title)
	fmt.Fprintf(b, "Solicitation: %s\n", opp.SolicitationNumber)
	fmt.Fprintf(b, "Agency: %s\n", opp.Agency)
	fmt.Fprintf(b, "Notice type: %s\n", opp.NoticeType)
	fmt.Fprintf(b, "NAICS: %s\n", strings.Join(opp.NAICSCodes, ", "))
	fmt.Fprintf(b, "PSC: %s\n", strings.Join(opp.PSCCodes, ", "))
	fmt.Fprintf(b, "Set-aside: %s\n", strings.Join(opp.SetAsides, ", "))
	if opp.ResponseDeadline != nil {
		fmt.Fprintf(b, "Response deadline: %s\n", opp.ResponseDeadline.Format(time.RFC3339))
	}
	fmt.Fprintf(b, "Relevance score: %d (%s)\n", opp.RelevanceScore, strings.Join(opp.Signals, ", "))

	desc := opp.Description
	if len(desc) > maxPromptDescription {
		desc = strings.ToValidUTF8(desc[:maxPromptDescription], "")
	}
	fmt.Fprintf(b, "Description:\n%s\n", desc)
}
