package domain

// LaunchRequest starts a simulation for one persona against one URL.
type LaunchRequest struct {
	TestID  string   `json:"test_id"`
	URL     string   `json:"url"`
	Persona Persona  `json:"persona"`
	Tasks   []string `json:"tasks"`
}

// LaunchResponse is returned once the run has been queued.
type LaunchResponse struct {
	RunID       string    `json:"run_id"`
	ExecutionID string    `json:"execution_id"`
	Status      RunStatus `json:"status"`
}

// ResumeResponse is returned when an interrupted run is picked up again.
type ResumeResponse struct {
	RunID       string    `json:"run_id"`
	ExecutionID string    `json:"execution_id"`
	Status      RunStatus `json:"status"`
	Progress    int       `json:"progress"`
}

// RunEventsResponse lists events for a run.
type RunEventsResponse struct {
	RunID  string  `json:"run_id"`
	Events []Event `json:"events"`
}

// FindingsResponse lists clustered findings with a count summary.
type FindingsResponse struct {
	Findings []ClusteredFinding `json:"findings"`
	Summary  string             `json:"summary"`
}

// FeedMessage is pushed to live subscribers of a run.
type FeedMessage struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	Ts       int64     `json:"ts"`
	Status   RunStatus `json:"status,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Event    *Event    `json:"event,omitempty"`
	Log      string    `json:"log,omitempty"`
}
