package sched

// DecodeAmortization selects the batch size that a decode step's cost is
// amortized over.
type DecodeAmortization string

const (
	// AmortizeDecodeOnly divides the decode cost by the number of decode
	// entries in the batch. Prefill chunks sharing the iteration do not
	// dilute the decode charge.
	AmortizeDecodeOnly DecodeAmortization = "decode-only"
	// AmortizeFullBatch divides the decode cost by the total entry count,
	// decode steps and prefill chunks together.
	AmortizeFullBatch DecodeAmortization = "full-batch"
)

var validDecodeAmortizations = map[DecodeAmortization]bool{
	"":                 true, // empty defaults to decode-only
	AmortizeDecodeOnly: true,
	AmortizeFullBatch:  true,
}

// IsValidDecodeAmortization returns true if name is a recognized amortization policy.
func IsValidDecodeAmortization(name string) bool {
	return validDecodeAmortizations[DecodeAmortization(name)]
}

// CostModel maps token activity to normalized service cost.
// All methods are pure.
type CostModel struct {
	UnitPrefillCost float64
	UnitDecodeCost  float64
	Amortization    DecodeAmortization
}

// NewCostModel builds a CostModel from its config group.
func NewCostModel(cfg CostConfig) CostModel {
	amortization := cfg.DecodeAmortization
	if amortization == "" {
		amortization = AmortizeDecodeOnly
	}
	return CostModel{
		UnitPrefillCost: cfg.UnitPrefillCost,
		UnitDecodeCost:  cfg.UnitDecodeCost,
		Amortization:    amortization,
	}
}

// PrefillTokenCost returns the cost of prefilling n prompt tokens.
func (m CostModel) PrefillTokenCost(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) * m.UnitPrefillCost
}

// DecodeTokenCost returns the per-request cost of one decode step shared by
// concurrent requests. A non-positive concurrency is treated as 1.
func (m CostModel) DecodeTokenCost(concurrent int) float64 {
	if concurrent < 1 {
		concurrent = 1
	}
	return m.UnitDecodeCost / float64(concurrent)
}

// DecodeConcurrency returns the divisor for decode amortization given a
// batch's decode entry count and total entry count.
func (m CostModel) DecodeConcurrency(decodeEntries, totalEntries int) int {
	if m.Amortization == AmortizeFullBatch {
		return totalEntries
	}
	return decodeEntries
}

// RequestServiceCost returns the total cost of serving a request end to end:
// its whole prompt plus its output tokens, each decode step charged unamortized.
func (m CostModel) RequestServiceCost(promptTokens, outputTokens int64) float64 {
	return m.PrefillTokenCost(promptTokens) + float64(max(outputTokens, 0))*m.UnitDecodeCost
}
