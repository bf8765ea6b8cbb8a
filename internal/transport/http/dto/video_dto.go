package dto

type VideoURLResponse struct {
	LessonID    int64  `json:"lesson_id"`
	PlaybackURL string `json:"playback_url"`
	ExpiresAt   int64  `json:"expires_at"`
	Tag         string `json:"tag"`
}

type StreamCheckResponse struct {
	Allowed bool `json:"allowed"`
}
