package model

// BatchSummary counts terminal statuses across a batch run.
type BatchSummary struct {
	Total     int     `yaml:"total"`
	Completed int     `yaml:"completed"`
	Feedback  int     `yaml:"feedback"`
	Failed    int     `yaml:"failed"`
	Timeout   int     `yaml:"timeout"`
	CostUSD   float64 `yaml:"cost_usd"`
}

func Summarize(results []Result) BatchSummary {
	var s BatchSummary
	for _, r := range results {
		s.Total++
		s.CostUSD += r.TotalCost()
		switch r.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFeedback:
			s.Feedback++
		case StatusFailed:
			s.Failed++
		case StatusTimeout:
			s.Timeout++
		}
	}
	return s
}

// ExitCode is 0 only when no unit failed or timed out.
func (s BatchSummary) ExitCode() int {
	if s.Failed > 0 || s.Timeout > 0 {
		return 1
	}
	return 0
}
