package domain

// Result is the flat object returned for every prediction request,
// whether it came from the model, the fallback predictor or validation.
type Result struct {
	Material   string  `json:"material"`
	Bin        string  `json:"bin"`
	Tip        string  `json:"tip"`
	Color      string  `json:"color"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}
