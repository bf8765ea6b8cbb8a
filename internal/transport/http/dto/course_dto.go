package dto

type CourseResponse struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	StarsPrice  int64  `json:"stars_price,omitempty"`
	Category    string `json:"category,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
	IsActive    bool   `json:"is_active"`
}

type CourseListResponse struct {
	Courses []CourseResponse `json:"courses"`
}

type LessonResponse struct {
	ID          int64  `json:"id"`
	CourseID    int64  `json:"course_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
	Position    int    `json:"position"`
	IsFree      bool   `json:"is_free"`
}

type LessonListResponse struct {
	Lessons []LessonResponse `json:"lessons"`
}

type CreateCourseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	StarsPrice  int64  `json:"stars_price"`
	Category    string `json:"category"`
}

type CreateLessonRequest struct {
	Title          string `json:"title"`
	IsFree         bool   `json:"is_free"`
	VideoFileID    string `json:"video_file_id"`
	VideoObjectKey string `json:"video_object_key"`
}

type SetCourseActiveRequest struct {
	IsActive bool `json:"is_active"`
}
