package model

// Job status
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Re-applying the current non-terminal status is allowed.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s.rank() < 0 || next.rank() < 0 || s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Predecessors lists the statuses a row may hold for an update to next to be legal.
func (s JobStatus) Predecessors() []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed} {
		if from.CanAdvanceTo(s) {
			out = append(out, from)
		}
	}
	return out
}

// Callback phases pushed by the vendor
type CallbackType string

const (
	CallbackText     CallbackType = "text"
	CallbackFirst    CallbackType = "first"
	CallbackComplete CallbackType = "complete"
	CallbackError    CallbackType = "error"
)

// Suno generation engine versions
type SunoModel string

const (
	SunoModelV3_5     SunoModel = "V3_5"
	SunoModelV4       SunoModel = "V4"
	SunoModelV4_5     SunoModel = "V4_5"
	SunoModelV4_5Plus SunoModel = "V4_5PLUS"
	SunoModelV5       SunoModel = "V5"
)

var ValidModels = []SunoModel{
	SunoModelV3_5, SunoModelV4, SunoModelV4_5, SunoModelV4_5Plus, SunoModelV5,
}

// DefaultModel is the engine version fixed by client policy.
const DefaultModel = SunoModelV5

// IsValid reports whether m is a known engine version.
func (m SunoModel) IsValid() bool {
	for _, v := range ValidModels {
		if v == m {
			return true
		}
	}
	return false
}

// Vocal gender hint
type VocalGender string

const (
	VocalGenderMale   VocalGender = "m"
	VocalGenderFemale VocalGender = "f"
)

// EngineStatus is the client-visible polling state.
type EngineStatus string

const (
	EngineIdle         EngineStatus = "idle"
	EngineGenerating   EngineStatus = "generating"
	EnginePolling      EngineStatus = "polling"
	EngineCompleted    EngineStatus = "completed"
	EngineError        EngineStatus = "error"
	EngineLimitReached EngineStatus = "limit_reached"
)

// IsTerminal reports whether the engine stopped for the current job.
func (s EngineStatus) IsTerminal() bool {
	return s == EngineCompleted || s == EngineError || s == EngineLimitReached
}
