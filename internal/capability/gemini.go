package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ashita-ai/kansa/internal/model"
)

// GeminiDrafter generates the narrative with the Gemini API. Recommended
// actions and confidence stay rule-based (same tiers as the mock drafter)
// so routing never depends on model output variance; only the prose does.
type GeminiDrafter struct {
	client *genai.Client
	model  string
}

// NewGeminiDrafter creates a Gemini-backed drafter.
func NewGeminiDrafter(ctx context.Context, apiKey, modelName string) (*GeminiDrafter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("capability: create gemini client: %w", err)
	}
	return &GeminiDrafter{client: client, model: modelName}, nil
}

// Draft asks the model for a narrative over the findings.
func (g *GeminiDrafter) Draft(ctx context.Context, in DraftInput) (model.Draft, error) {
	gm := g.client.GenerativeModel(g.model)
	gm.SetTemperature(0.3)
	gm.SetMaxOutputTokens(500)

	resp, err := gm.GenerateContent(ctx, genai.Text(buildPrompt(in)))
	if err != nil {
		return model.Draft{}, fmt.Errorf("capability: gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return model.Draft{}, fmt.Errorf("capability: gemini returned no candidates")
	}

	var narrative strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			narrative.WriteString(string(text))
		}
	}
	if narrative.Len() == 0 {
		return model.Draft{}, fmt.Errorf("capability: gemini returned empty narrative")
	}

	var actions []string
	var confidence float64
	switch n := len(in.Anomalies); {
	case n == 0:
		actions = []string{"continue_normal_monitoring"}
		confidence = confidenceClean
	case n <= 2:
		actions = []string{"flag_for_review", "notify_customer"}
		confidence = confidenceFew
	default:
		actions = []string{"escalate_to_analyst", "notify_customer", "enhanced_monitoring"}
		confidence = confidenceElevated
	}

	return model.Draft{
		Narrative:          narrative.String(),
		RecommendedActions: actions,
		Confidence:         confidence,
	}, nil
}

// Close releases the underlying API client.
func (g *GeminiDrafter) Close() error {
	return g.client.Close()
}

func buildPrompt(in DraftInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a financial transaction analyst reviewing data for customer %s.\n", in.CustomerID)
	fmt.Fprintf(&b, "Window: %d days, %d transactions, total $%.2f, average $%.2f.\n",
		in.Summary.WindowDays, in.Summary.Count, in.Summary.TotalAmount, in.Summary.AvgAmount)

	if len(in.Anomalies) == 0 {
		b.WriteString("No anomalies were detected.\n")
	} else {
		fmt.Fprintf(&b, "Detected anomalies (%d):\n", len(in.Anomalies))
		for _, a := range in.Anomalies {
			fmt.Fprintf(&b, "- $%.2f at %s (score %.2f): %s\n",
				a.Amount, a.Merchant, a.Score, strings.Join(a.Reasons, ", "))
		}
	}

	if len(in.Snippets) > 0 {
		b.WriteString("Relevant internal policies:\n")
		for _, s := range in.Snippets {
			fmt.Fprintf(&b, "- %s: %s\n", s.Title, s.Excerpt)
		}
	}

	b.WriteString("\nWrite a concise, professional explanation of the findings. " +
		"Factual tone, no speculation. The data is synthetic review material.")
	return b.String()
}
