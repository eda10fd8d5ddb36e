package model

// CallbackPayload is the vendor's push notification for a task.
type CallbackPayload struct {
	Code int          `json:"code"`
	Msg  string       `json:"msg"`
	Data CallbackData `json:"data"`
}

// CallbackData is validated for the task id only. Failure pushes may omit the
// phase and carry partial tracks, and must still fail the job.
type CallbackData struct {
	CallbackType CallbackType    `json:"callbackType"`
	TaskID       string          `json:"task_id" validate:"required"`
	Tracks       []CallbackTrack `json:"data"`
}

// CallbackTrack is one track as pushed by the vendor. Early phases may omit
// URLs and duration, hence the pointers.
type CallbackTrack struct {
	ID                   string   `json:"id"`
	AudioURL             *string  `json:"audio_url"`
	StreamAudioURL       *string  `json:"stream_audio_url"`
	ImageURL             *string  `json:"image_url"`
	SourceAudioURL       *string  `json:"source_audio_url"`
	SourceStreamAudioURL *string  `json:"source_stream_audio_url"`
	SourceImageURL       *string  `json:"source_image_url"`
	Prompt               string   `json:"prompt"`
	ModelName            string   `json:"model_name"`
	Title                string   `json:"title"`
	Tags                 string   `json:"tags"`
	Duration             *float64 `json:"duration"`
}

// Succeeded reports whether the vendor reported a successful phase.
func (p *CallbackPayload) Succeeded() bool {
	return p.Code == 200 && p.Data.CallbackType != CallbackError
}

// ToTrack normalises missing fields: URLs become "" and duration 0, so that
// playability is decided by non-empty strings only.
func (t CallbackTrack) ToTrack() Track {
	return Track{
		ID:                   t.ID,
		Title:                t.Title,
		Tags:                 t.Tags,
		Prompt:               t.Prompt,
		ModelName:            t.ModelName,
		AudioURL:             deref(t.AudioURL),
		StreamAudioURL:       deref(t.StreamAudioURL),
		ImageURL:             deref(t.ImageURL),
		SourceAudioURL:       deref(t.SourceAudioURL),
		SourceStreamAudioURL: deref(t.SourceStreamAudioURL),
		SourceImageURL:       deref(t.SourceImageURL),
		Duration:             derefFloat(t.Duration),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// CallbackAck is the body returned to the vendor.
type CallbackAck struct {
	Status string `json:"status"` // received or ignored
	TaskID string `json:"task_id"`
	Scope  string `json:"type,omitempty"`
	Note   string `json:"note,omitempty"`
}
