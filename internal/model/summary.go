package model

// ApplySummary is the settled outcome of a bulk apply.
type ApplySummary struct {
	Succeeded []string `json:"succeeded_macs"`
	Failed    []string `json:"failed_macs"`
	Skipped   []string `json:"skipped_macs,omitempty"`
	// Retryable is the subset of Failed whose error was transient, so
	// applying again may succeed.
	Retryable []string          `json:"retryable_macs,omitempty"`
	Errors    map[string]string `json:"errors,omitempty"`
}
