package model

// Frame types pushed to generation listeners.
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the envelope every frame shares; clients switch on Type.
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage mirrors one applied callback phase.
type WSProgressMessage struct {
	Type         string       `json:"type"`
	TaskID       string       `json:"taskId"`
	Status       JobStatus    `json:"status"`
	CallbackType CallbackType `json:"callbackType"`
	Tracks       []Track      `json:"tracks,omitempty"`
}

// WSCompleteMessage is sent once the task has playable tracks.
type WSCompleteMessage struct {
	Type   string  `json:"type"`
	TaskID string  `json:"taskId"`
	Tracks []Track `json:"tracks"`
}

type WSErrorMessage struct {
	Type   string  `json:"type"`
	TaskID string  `json:"taskId"`
	Error  WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
