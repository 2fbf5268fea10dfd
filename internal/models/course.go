package models

// Course identifies the class period an attendance session is taken for.
type Course struct {
	SubjectID   string `json:"subjectId" binding:"required" validate:"required"`
	SemesterID  string `json:"semesterId" binding:"required" validate:"required"`
	SubjectName string `json:"subjectName"`
	Code        string `json:"code"`
	Section     string `json:"section"`
	PeriodIndex int    `json:"periodIndex" validate:"gte=0"`
	TimeRange   string `json:"timeRange"`
}
