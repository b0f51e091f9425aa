package usage

import "math"

// Pricing is the USD cost per million tokens for one model. Audio models
// count one second of audio as one token.
type Pricing struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
}

// DefaultModel prices any model missing from the table.
const DefaultModel = "claude-3-5-sonnet-latest"

var sonnetPricing = Pricing{Input: 3.00, Output: 15.00, CacheWrite: 3.75, CacheRead: 0.30}

// whisper is $0.0001 per second.
var whisperPricing = Pricing{Input: 100.0, Output: 100.0}

var modelPricing = map[string]Pricing{
	"claude-3-5-sonnet-20241022": sonnetPricing,
	"claude-3-5-sonnet-latest":   sonnetPricing,
	"claude-3-7-sonnet-20250219": sonnetPricing,
	"claude-3-7-sonnet-latest":   sonnetPricing,
	"whisper-1":                  whisperPricing,
	"whisper":                    whisperPricing,
}

// PriceFor returns the pricing for model, falling back to DefaultModel.
func PriceFor(model string) Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return modelPricing[DefaultModel]
}

// Costs is the per-bucket cost of one usage row, each rounded to 6 decimals.
type Costs struct {
	Input      float64
	Output     float64
	CacheWrite float64
	CacheRead  float64
	Total      float64
}

// Cost prices a usage row. Total is summed before rounding.
func Cost(model string, input, output, cacheWrite, cacheRead int) Costs {
	p := PriceFor(model)
	in := perMillion(input, p.Input)
	out := perMillion(output, p.Output)
	cw := perMillion(cacheWrite, p.CacheWrite)
	cr := perMillion(cacheRead, p.CacheRead)
	return Costs{
		Input:      round6(in),
		Output:     round6(out),
		CacheWrite: round6(cw),
		CacheRead:  round6(cr),
		Total:      round6(in + out + cw + cr),
	}
}

func perMillion(tokens int, price float64) float64 {
	return float64(tokens) / 1_000_000 * price
}

func round6(v float64) float64 {
	return math.Round(v*1_000_000) / 1_000_000
}
