package model

import "time"

// GenerationJob is one user request to produce music, keyed by the vendor task id.
type GenerationJob struct {
	TaskID       string      `json:"taskId"`
	Owner        Identity    `json:"owner"`
	Prompt       string      `json:"prompt"`
	Model        SunoModel   `json:"model"`
	Instrumental bool        `json:"instrumental"`
	NegativeTags string      `json:"negativeTags,omitempty"`
	VocalGender  VocalGender `json:"vocalGender,omitempty"`
	Status       JobStatus   `json:"status"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Tracks       []Track     `json:"tracks"`
}

// IsDone reports whether the job reached a terminal state.
func (j *GenerationJob) IsDone() bool {
	return j.Status.IsTerminal()
}

// PlayableTracks returns the tracks that can be played right now.
func (j *GenerationJob) PlayableTracks() []Track {
	return PlayableTracks(j.Tracks)
}

// Track is one rendered audio candidate of a job.
type Track struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Tags           string `json:"tags"`
	Prompt         string `json:"prompt"`
	ModelName      string `json:"modelName"`
	StreamAudioURL string `json:"streamAudioUrl"`
	AudioURL       string `json:"audioUrl"`
	ImageURL       string `json:"imageUrl"`
	// Vendor origin URLs, kept for re-fetching once the CDN copies expire.
	SourceAudioURL       string  `json:"sourceAudioUrl,omitempty"`
	SourceStreamAudioURL string  `json:"sourceStreamAudioUrl,omitempty"`
	SourceImageURL       string  `json:"sourceImageUrl,omitempty"`
	ArchiveURL           string  `json:"archiveUrl,omitempty"`
	Duration             float64 `json:"duration"`
}

// IsPlayable reports whether the track has a stream or final audio URL.
func (t Track) IsPlayable() bool {
	return t.StreamAudioURL != "" || t.AudioURL != ""
}

// IsDownloadable reports whether the final-quality audio is available.
func (t Track) IsDownloadable() bool {
	return t.AudioURL != ""
}

// PlaybackURL prefers the stream URL, which shows up well before the final file.
func (t Track) PlaybackURL() string {
	if t.StreamAudioURL != "" {
		return t.StreamAudioURL
	}
	return t.AudioURL
}

// DownloadURL returns the final-quality URL, or "" when not ready.
func (t Track) DownloadURL() string {
	return t.AudioURL
}

// PlayableTracks filters tracks down to the playable ones.
func PlayableTracks(tracks []Track) []Track {
	var out []Track
	for _, t := range tracks {
		if t.IsPlayable() {
			out = append(out, t)
		}
	}
	return out
}

// HasPlayable reports whether any track is playable.
func HasPlayable(tracks []Track) bool {
	for _, t := range tracks {
		if t.IsPlayable() {
			return true
		}
	}
	return false
}
