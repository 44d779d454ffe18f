package model

import "time"

// Usage is the token accounting reported by the agent.
type Usage struct {
	InputTokens         int `yaml:"input_tokens" json:"input_tokens"`
	OutputTokens        int `yaml:"output_tokens" json:"output_tokens"`
	CacheCreationTokens int `yaml:"cache_creation_input_tokens,omitempty" json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `yaml:"cache_read_input_tokens,omitempty" json:"cache_read_input_tokens,omitempty"`
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// ExecutionMetadata is extracted from the agent's result event (streaming mode only).
type ExecutionMetadata struct {
	CostUSD     float64       `yaml:"cost_usd" json:"cost_usd"`
	Duration    time.Duration `yaml:"duration" json:"duration"`
	APIDuration time.Duration `yaml:"api_duration" json:"api_duration"`
	NumTurns    int           `yaml:"num_turns" json:"num_turns"`
	Usage       *Usage        `yaml:"usage,omitempty" json:"usage,omitempty"`
	IsError     bool          `yaml:"is_error,omitempty" json:"is_error,omitempty"`
}

// ExecutionResult is produced once per successful agent invocation.
type ExecutionResult struct {
	Output   string
	Metadata *ExecutionMetadata
}

// Attempt is one worker (and optional moderator) iteration. Never modified after append.
type Attempt struct {
	Number            int                `yaml:"number"`
	Injected          string             `yaml:"injected,omitempty"`
	WorkerOutput      string             `yaml:"worker_output"`
	ModeratorOutput   string             `yaml:"moderator_output,omitempty"`
	StartedAt         time.Time          `yaml:"started_at"`
	Duration          time.Duration      `yaml:"duration"`
	WorkerMetadata    *ExecutionMetadata `yaml:"worker_metadata,omitempty"`
	ModeratorMetadata *ExecutionMetadata `yaml:"moderator_metadata,omitempty"`
	Error             string             `yaml:"error,omitempty"`
}

// Result is the terminal record of one unit of work: a task file, a doc file or a module path.
type Result struct {
	Kind     UnitKind      `yaml:"kind"`
	Target   string        `yaml:"target"`
	Status   Status        `yaml:"status"`
	Attempts []Attempt     `yaml:"attempts"`
	Feedback string        `yaml:"feedback,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Duration time.Duration `yaml:"duration"`
}

// TotalCost sums the reported agent cost across every attempt.
func (r Result) TotalCost() float64 {
	var total float64
	for _, a := range r.Attempts {
		if a.WorkerMetadata != nil {
			total += a.WorkerMetadata.CostUSD
		}
		if a.ModeratorMetadata != nil {
			total += a.ModeratorMetadata.CostUSD
		}
	}
	return total
}

// RunFile is persisted to results/<run_id>.yaml after each batch.
type RunFile struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	RunID         string       `yaml:"run_id"`
	Kind          UnitKind     `yaml:"kind"`
	StartedAt     string       `yaml:"started_at"`
	Summary       BatchSummary `yaml:"summary"`
	Results       []Result     `yaml:"results"`
}
