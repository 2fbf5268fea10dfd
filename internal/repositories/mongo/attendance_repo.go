package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gorm.io/datatypes"
)

// attendanceDoc is one committed session with its records embedded, so a
// single insert is all-or-nothing.
type attendanceDoc struct {
	ID          string                `bson:"_id"`
	SubjectID   string                `bson:"subject_id"`
	SemesterID  string                `bson:"semester_id"`
	SubjectName string                `bson:"subject_name,omitempty"`
	Section     string                `bson:"section"`
	PeriodIndex int                   `bson:"period_index"`
	TimeRange   string                `bson:"time_range,omitempty"`
	DateString  string                `bson:"date_string"`
	Mode        models.AttendanceMode `bson:"mode"`
	Confidence  int                   `bson:"confidence"`
	FacultyID   string                `bson:"faculty_id"`
	Status      string                `bson:"status"`

	PresentStudentIDs []string `bson:"present_student_ids"`
	Headcount         int      `bson:"headcount"`
	VoiceCount        int      `bson:"voice_count"`

	Metadata bson.M      `bson:"metadata,omitempty"`
	Records  []recordDoc `bson:"records"`

	Timestamp time.Time `bson:"timestamp"`
}

type recordDoc struct {
	ID        string `bson:"id"`
	StudentID string `bson:"student_id"`
	Status    string `bson:"status"`
}

type AttendanceRepository interface {
	Save(ctx context.Context, s *models.AttendanceSession, records []models.AttendanceRecord) error
	GetByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error)
	ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type attendanceRepo struct {
	col *mongo.Collection
}

func NewAttendanceRepo(db *mongo.Database) AttendanceRepository {
	return &attendanceRepo{col: db.Collection("attendance_history")}
}

func (r *attendanceRepo) Save(ctx context.Context, s *models.AttendanceSession, records []models.AttendanceRecord) error {
	doc := attendanceDoc{
		ID:                s.ID,
		SubjectID:         s.SubjectID,
		SemesterID:        s.SemesterID,
		SubjectName:       s.SubjectName,
		Section:           s.Section,
		PeriodIndex:       s.PeriodIndex,
		TimeRange:         s.TimeRange,
		DateString:        s.DateString,
		Mode:              s.Mode,
		Confidence:        s.Confidence,
		FacultyID:         s.FacultyID,
		Status:            s.Status,
		PresentStudentIDs: append([]string{}, s.PresentStudentIDs...),
		Headcount:         s.Headcount,
		VoiceCount:        s.VoiceCount,
		Timestamp:         s.Timestamp,
		Records:           make([]recordDoc, 0, len(records)),
	}
	if len(s.Metadata) > 0 {
		var md bson.M
		if err := json.Unmarshal(s.Metadata, &md); err != nil {
			return err
		}
		doc.Metadata = md
	}
	for _, rec := range records {
		doc.Records = append(doc.Records, recordDoc{ID: rec.ID, StudentID: rec.StudentID, Status: rec.Status})
	}
	_, err := r.col.InsertOne(ctx, doc)
	return err
}

func (r *attendanceRepo) find(ctx context.Context, id string) (*attendanceDoc, error) {
	var d attendanceDoc
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *attendanceRepo) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	d, err := r.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.toModel()
}

func (r *attendanceRepo) ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error) {
	if limit <= 0 {
		limit = 50
	}
	filter := bson.M{"subject_id": subjectID}
	if date != "" {
		filter["date_string"] = date
	}
	cur, err := r.col.Find(ctx, filter,
		options.Find().
			SetSort(bson.D{{Key: "timestamp", Value: -1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"records": 0}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []attendanceDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]models.AttendanceSession, 0, len(docs))
	for i := range docs {
		m, err := docs[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (r *attendanceRepo) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	d, err := r.find(ctx, sessionID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]models.AttendanceRecord, 0, len(d.Records))
	for _, rec := range d.Records {
		out = append(out, models.AttendanceRecord{
			ID:         rec.ID,
			SessionID:  d.ID,
			StudentID:  rec.StudentID,
			Status:     rec.Status,
			DateString: d.DateString,
		})
	}
	return out, nil
}

func (d *attendanceDoc) toModel() (*models.AttendanceSession, error) {
	s := &models.AttendanceSession{
		ID:                d.ID,
		SubjectID:         d.SubjectID,
		SemesterID:        d.SemesterID,
		SubjectName:       d.SubjectName,
		Section:           d.Section,
		PeriodIndex:       d.PeriodIndex,
		TimeRange:         d.TimeRange,
		DateString:        d.DateString,
		Mode:              d.Mode,
		Confidence:        d.Confidence,
		FacultyID:         d.FacultyID,
		Status:            d.Status,
		PresentStudentIDs: d.PresentStudentIDs,
		Headcount:         d.Headcount,
		VoiceCount:        d.VoiceCount,
		Timestamp:         d.Timestamp,
	}
	if len(d.Metadata) > 0 {
		b, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, err
		}
		s.Metadata = datatypes.JSON(b)
	}
	return s, nil
}
