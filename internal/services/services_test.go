package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/smartattend/internal/cache"
	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions []*models.AttendanceSession
	records  [][]models.AttendanceRecord
	err      error
}

func (f *fakeStore) Save(ctx context.Context, s *models.AttendanceSession, recs []models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sessions = append(f.sessions, s)
	f.records = append(f.records, recs)
	return nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeStore) ListBySubject(ctx context.Context, subjectID, date string, limit int) ([]models.AttendanceSession, error) {
	return nil, nil
}

func (f *fakeStore) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	return nil, nil
}

func validCommit() CommitRequest {
	return CommitRequest{
		Course:            models.Course{SubjectID: "math", SemesterID: "sem1", SubjectName: "Mathematics", PeriodIndex: 2},
		PresentStudentIDs: []string{"a", "c", "a"},
		Headcount:         2,
		RecognizedCount:   2,
		Date:              time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Mode:              models.ModeSmart,
		OperatorID:        "fac-1",
		Metadata:          map[string]any{"source": "local"},
	}
}

func TestAttendanceService_Commit(t *testing.T) {
	store := &fakeStore{}
	svc := NewAttendanceService(store, nil)

	id, err := svc.Commit(context.Background(), validCommit())
	require.NoError(t, err)
	require.Len(t, store.sessions, 1)

	s := store.sessions[0]
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "N/A", s.Section)
	assert.Equal(t, "2026-03-02", s.DateString)
	assert.Equal(t, 100, s.Confidence)
	assert.Equal(t, "completed", s.Status)
	assert.Equal(t, "fac-1", s.FacultyID)
	assert.Equal(t, []string{"a", "c"}, []string(s.PresentStudentIDs))
	assert.JSONEq(t, `{"source":"local"}`, string(s.Metadata))

	recs := store.records[0]
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, id, r.SessionID)
		assert.Equal(t, "present", r.Status)
	}

	got, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestAttendanceService_CommitValidation(t *testing.T) {
	svc := NewAttendanceService(&fakeStore{}, nil)

	cases := map[string]func(r *CommitRequest){
		"no subject":  func(r *CommitRequest) { r.Course.SubjectID = "" },
		"no semester": func(r *CommitRequest) { r.Course.SemesterID = "" },
		"bad mode":    func(r *CommitRequest) { r.Mode = "guess" },
		"no operator": func(r *CommitRequest) { r.OperatorID = "" },
		"neg count":   func(r *CommitRequest) { r.Headcount = -1 },
		"empty id":    func(r *CommitRequest) { r.PresentStudentIDs = []string{""} },
	}
	for name, mut := range cases {
		t.Run(name, func(t *testing.T) {
			req := validCommit()
			mut(&req)
			_, err := svc.Commit(context.Background(), req)
			assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument), "got %v", err)
		})
	}
}

func TestAttendanceService_CommitEmptyRoster(t *testing.T) {
	store := &fakeStore{}
	svc := NewAttendanceService(store, nil)

	req := validCommit()
	req.PresentStudentIDs = nil
	req.Headcount = 0
	_, err := svc.Commit(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, store.records[0])
}

func TestAttendanceService_SaveFailed(t *testing.T) {
	svc := NewAttendanceService(&fakeStore{err: errors.New("connection refused")}, nil)

	_, err := svc.Commit(context.Background(), validCommit())
	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeSaveFailed))
	assert.Equal(t, "connection refused", utils.Cause(err))
}

func TestAttendanceService_GetNotFound(t *testing.T) {
	svc := NewAttendanceService(&fakeStore{}, nil)
	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))

	_, err = svc.ListBySubject(context.Background(), "math", "02/03/2026", 0)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

type countingSource struct {
	calls int
	out   []models.Student
	err   error
}

func (c *countingSource) ListBySemester(ctx context.Context, semesterID string) ([]models.Student, error) {
	c.calls++
	return c.out, c.err
}

func TestRosterService_Caches(t *testing.T) {
	src := &countingSource{out: []models.Student{{ID: "a", SemesterID: "sem1", RegNo: "7", Name: "Ann"}}}
	svc := NewRosterService(src, cache.NewMemoryCache(time.Minute), time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.GetStudentsBySemester(ctx, "sem1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, models.RegNo("7"), got[0].RegNo)
	}
	assert.Equal(t, 1, src.calls)

	require.NoError(t, svc.Invalidate(ctx, "sem1"))
	_, err := svc.GetStudentsBySemester(ctx, "sem1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestRosterService_Errors(t *testing.T) {
	svc := NewRosterService(&countingSource{err: errors.New("db down")}, nil, 0, nil)

	_, err := svc.GetStudentsBySemester(context.Background(), "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.GetStudentsBySemester(context.Background(), "sem1")
	assert.True(t, utils.IsCode(err, utils.CodeInternal))
}

type memUploader struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (m *memUploader) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	_, _ = io.Copy(io.Discard, r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return "mem://" + name, nil
}

type memLogs struct {
	mu   sync.Mutex
	logs []*models.MediaLog
}

func (m *memLogs) Insert(ctx context.Context, l *models.MediaLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, l)
	return nil
}

type fakeCounter struct {
	n   int
	err error
}

func (f fakeCounter) CountPeople(ctx context.Context, image []byte, mimeType string) (int, error) {
	return f.n, f.err
}

func (f fakeCounter) Close() error { return nil }

func TestHeadcountService(t *testing.T) {
	up, logs := &memUploader{}, &memLogs{}
	svc := NewHeadcountService(fakeCounter{n: 31}, up, logs, nil)

	n, err := svc.GetHeadcount(context.Background(), capture.Artifact{Data: []byte{0xff, 0xd8}, MimeType: capture.MimeJPEG})
	require.NoError(t, err)
	assert.Equal(t, 31, n)

	require.Len(t, up.names, 1)
	assert.Regexp(t, `^capture_\d+\.jpg$`, up.names[0])
	require.Len(t, logs.logs, 1)
	assert.Equal(t, "done", logs.logs[0].Status)
	assert.Equal(t, 31, *logs.logs[0].Count)
	assert.Equal(t, "mem://"+up.names[0], logs.logs[0].StoredPath)
}

func TestHeadcountService_Failures(t *testing.T) {
	logs := &memLogs{}
	svc := NewHeadcountService(fakeCounter{err: errors.New("quota")}, &memUploader{err: errors.New("bucket gone")}, logs, nil)

	_, err := svc.CountStudents(context.Background(), nil, "")
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	// upload failure is not fatal, the counter failure is
	_, err = svc.CountStudents(context.Background(), []byte{1}, "image/webp")
	assert.True(t, utils.IsCode(err, utils.CodeCaptureFailed))
	require.Len(t, logs.logs, 1)
	assert.Equal(t, "failed", logs.logs[0].Status)
	assert.Empty(t, logs.logs[0].StoredPath)
}

type fakeSTT struct {
	text string
	err  error
}

func (f fakeSTT) Transcribe(ctx context.Context, audio []byte, language string) (string, float64, error) {
	return f.text, 0.9, f.err
}

func (f fakeSTT) Close() error { return nil }

func TestRollCallService(t *testing.T) {
	up, logs := &memUploader{}, &memLogs{}
	svc := NewRollCallService(fakeSTT{text: "1, two, three... 15 and twenty two"}, "", up, logs, nil)

	res, err := svc.ProcessRollCall(context.Background(), voice.AudioBlob{Data: []byte("RIFF"), MimeType: voice.MimeWAV})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "15", "22"}, res.RollNumbers)
	assert.Regexp(t, `^rollcall_\d+\.wav$`, res.Filename)
	require.Len(t, logs.logs, 1)
	assert.Equal(t, models.MediaKindAudio, logs.logs[0].Kind)
	assert.Equal(t, res.RollNumbers, logs.logs[0].RollNumbers)
}

func TestRollCallService_Failure(t *testing.T) {
	svc := NewRollCallService(fakeSTT{err: errors.New("deadline")}, "en-US", nil, nil, nil)

	_, err := svc.ProcessRollCall(context.Background(), voice.AudioBlob{})
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))

	_, err = svc.ProcessRollCall(context.Background(), voice.AudioBlob{Data: []byte{1}})
	assert.True(t, utils.IsCode(err, utils.CodeTranscriptionFailed))
}

func TestMediaName(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	assert.Equal(t, "capture_1700000000123.jpg", mediaName("capture", "image/jpeg", ".bin", at))
	assert.Equal(t, "rollcall_1700000000123.webm", mediaName("rollcall", "audio/webm;codecs=opus", ".wav", at))
	assert.Equal(t, "rollcall_1700000000123.wav", mediaName("rollcall", "", ".wav", at))
}
