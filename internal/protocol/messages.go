package protocol

import "time"

// PodcastRequest asks the podcast worker to voice a stored summary.
type PodcastRequest struct {
	JobID       string    `json:"job_id"`
	DocumentID  int64     `json:"document_id"`
	Summary     string    `json:"summary"`
	TraceID     string    `json:"trace_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// PodcastStatus is broadcast on every job state transition.
type PodcastStatus struct {
	JobID      string    `json:"job_id"`
	DocumentID int64     `json:"document_id"`
	Status     string    `json:"status"`
	AudioPath  string    `json:"audio_path,omitempty"`
	Turns      int       `json:"turns,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectPodcastRequest = "papercast.podcast.request"
	SubjectPodcastStatus  = "papercast.podcast.status"

	// StreamPodcast holds pending podcast requests until a worker acks them.
	StreamPodcast = "PAPERCAST_PODCAST"
)
