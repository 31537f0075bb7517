package models

// The host reports results in a shape that depends on the job kind. These are
// the wire shapes; the console normalizes them into ExecutionResult.

// StandardCommandResult is one per-command tuple of a standard block.
// ResultSuccess follows exit-code convention: 0 means success.
type StandardCommandResult struct {
	Command       string      `json:"command"`
	ResultSuccess int         `json:"result_success"`
	ResultOutput  interface{} `json:"result_output"`
	Error         string      `json:"error,omitempty"`
}

// StandardResult is reported for standard blocks
type StandardResult struct {
	Results []StandardCommandResult `json:"results"`
	Logs    string                  `json:"logs,omitempty"`
}

// ActionStepResult is the outcome of one action in an action envelope
type ActionStepResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ActionResult is reported for action blocks
type ActionResult struct {
	Success       bool                   `json:"success"`
	Message       string                 `json:"message,omitempty"`
	Error         string                 `json:"error,omitempty"`
	PassedCount   int                    `json:"passed_count"`
	TotalCount    int                    `json:"total_count"`
	Results       []ActionStepResult     `json:"results,omitempty"`
	OutputData    map[string]interface{} `json:"output_data,omitempty"`
	ExecutionLogs string                 `json:"execution_logs,omitempty"`
}

// VerificationCheckResult is the outcome of one check in a verification envelope
type VerificationCheckResult struct {
	VerificationType string                 `json:"verification_type"`
	Success          bool                   `json:"success"`
	Message          string                 `json:"message,omitempty"`
	Details          map[string]interface{} `json:"details,omitempty"`
}

// VerificationResult is reported for verification blocks
type VerificationResult struct {
	Success       bool                      `json:"success"`
	Message       string                    `json:"message,omitempty"`
	Error         string                    `json:"error,omitempty"`
	Results       []VerificationCheckResult `json:"results,omitempty"`
	OutputData    map[string]interface{}    `json:"output_data,omitempty"`
	ExecutionLogs string                    `json:"execution_logs,omitempty"`
}

// NavigationResult is reported for navigation blocks
type NavigationResult struct {
	Success             bool   `json:"success"`
	Message             string `json:"message,omitempty"`
	Error               string `json:"error,omitempty"`
	PathLength          int    `json:"path_length"`
	TransitionsExecuted int    `json:"transitions_executed"`
	FinalPositionNodeID string `json:"final_position_node_id,omitempty"`
	ExecutionLogs       string `json:"execution_logs,omitempty"`
}
