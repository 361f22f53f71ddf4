package models

import "encoding/json"

// DispatchResult captures the delivery outcome for one device token.
type DispatchResult struct {
	Token     string          `json:"token"`
	Success   bool            `json:"success"`
	MessageID string          `json:"messageId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// DispatchReport aggregates the results of one dispatch request. Results are
// in the same order as the request's targets.
type DispatchReport struct {
	Success      bool             `json:"success"`
	Total        int              `json:"total"`
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	Results      []DispatchResult `json:"results"`
}

// NewDispatchReport counts the results and builds the report around them.
func NewDispatchReport(results []DispatchResult) *DispatchReport {
	if results == nil {
		results = []DispatchResult{}
	}
	successCount := 0
	for _, res := range results {
		if res.Success {
			successCount++
		}
	}
	failureCount := len(results) - successCount
	return &DispatchReport{
		Success:      failureCount == 0,
		Total:        len(results),
		SuccessCount: successCount,
		FailureCount: failureCount,
		Results:      results,
	}
}

// Partial reports whether some but not all deliveries failed.
func (r *DispatchReport) Partial() bool {
	return r.FailureCount > 0 && r.SuccessCount > 0
}
