package diag

import (
	"strings"

	"gridprompt/internal/provider"
)

// Rate is the USD price per million input/output tokens for one model family.
type Rate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultRates maps "provider/model-prefix" to prices. Longest matching
// prefix wins, so dated model snapshots inherit their family's rate.
var defaultRates = map[string]Rate{
	"openai/gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"openai/gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"openai/gpt-4.1-mini":      {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"openai/gpt-4.1":           {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"openai/gpt-3.5-turbo":     {InputPerMTok: 0.50, OutputPerMTok: 1.50},
	"gemini/gemini-2.0-flash":  {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gemini/gemini-1.5-flash":  {InputPerMTok: 0.075, OutputPerMTok: 0.30},
	"gemini/gemini-1.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 5.00},
	"gemini/gemini-2.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gemini/gemini-2.5-flash":  {InputPerMTok: 0.30, OutputPerMTok: 2.50},
}

// Cost estimates the dollar cost of one call. Unknown models cost zero
// rather than failing; accounting stays best-effort.
func Cost(vendor, model string, usage provider.Usage) float64 {
	key := vendor + "/" + model

	var best string
	for prefix := range defaultRates {
		if strings.HasPrefix(key, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return 0
	}
	rate := defaultRates[best]
	return float64(usage.PromptTokens)/1e6*rate.InputPerMTok +
		float64(usage.CompletionTokens)/1e6*rate.OutputPerMTok
}
