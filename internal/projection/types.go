package projection

import "time"

// ProfileQueryRequest selects the stored periods of one profile and entity.
type ProfileQueryRequest struct {
	Profile string
	Entity  string
	Start   time.Time
	End     time.Time
}

// PeriodValues holds every stored qualifier of one period.
type PeriodValues struct {
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
	Values      map[string]any `json:"values"`
}

// ProfileQueryResponse is returned by the profile read API.
type ProfileQueryResponse struct {
	Profile   string         `json:"profile"`
	Entity    string         `json:"entity"`
	ValueType string         `json:"value_type"`
	Start     time.Time      `json:"start"`
	End       time.Time      `json:"end"`
	Periods   []PeriodValues `json:"periods"`
}

// ProfileSummary describes a loaded profile definition.
type ProfileSummary struct {
	Name        string `json:"name"`
	ValueType   string `json:"value_type"`
	Period      string `json:"period"`
	TTL         string `json:"ttl"`
	Fingerprint string `json:"fingerprint"`
}

// SketchSummary is how a stored sketch is rendered in responses.
type SketchSummary struct {
	Count float64 `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}
