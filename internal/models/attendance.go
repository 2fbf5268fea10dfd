package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type AttendanceMode string

const (
	ModeSmart  AttendanceMode = "smart"
	ModeVoice  AttendanceMode = "voice"
	ModeCamera AttendanceMode = "camera"
)

const (
	SessionStatusCompleted = "completed"

	// ReviewedConfidence is stamped on every session a human previewed.
	ReviewedConfidence = 100
)

// AttendanceSession is the committed roster for one class period.
type AttendanceSession struct {
	ID          string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SubjectID   string `gorm:"column:subject_id;type:text;index" json:"subjectId"`
	SemesterID  string `gorm:"column:semester_id;type:text;index" json:"semesterId"`
	SubjectName string `gorm:"column:subject_name;type:text" json:"subjectName"`
	Section     string `gorm:"column:section;type:text" json:"section"`
	PeriodIndex int    `gorm:"column:period_index;type:integer" json:"periodIndex"`
	TimeRange   string `gorm:"column:time_range;type:text" json:"timeRange"`
	DateString  string `gorm:"column:date_string;type:text;index" json:"dateString"` // YYYY-MM-DD

	Mode       AttendanceMode `gorm:"column:mode;type:text" json:"mode"`
	Confidence int            `gorm:"column:confidence;type:integer" json:"confidence"`
	FacultyID  string         `gorm:"column:faculty_id;type:text;index" json:"facultyId"`
	Status     string         `gorm:"column:status;type:text" json:"status"`

	PresentStudentIDs pq.StringArray `gorm:"column:present_student_ids;type:text[]" json:"presentStudentIds"`
	Headcount         int            `gorm:"column:headcount;type:integer" json:"headcount"`
	VoiceCount        int            `gorm:"column:voice_count;type:integer" json:"voiceCount"`

	// recognition path, transcript, artifact mime type
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	Timestamp time.Time `gorm:"column:timestamp;type:timestamptz;index" json:"timestamp"`
}

func (AttendanceSession) TableName() string { return "attendance_sessions" }

// AttendanceRecord is the per-student row written alongside a session.
type AttendanceRecord struct {
	ID         string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID  string `gorm:"column:session_id;type:uuid;index" json:"sessionId"`
	StudentID  string `gorm:"column:student_id;type:text;index" json:"studentId"`
	Status     string `gorm:"column:status;type:text" json:"status"`
	DateString string `gorm:"column:date_string;type:text" json:"dateString"`
}

func (AttendanceRecord) TableName() string { return "attendance_records" }
