// Package backend talks to a remote smartattend server when the kiosk does not
// run the processing services in-process.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/smartattend/internal/capture"
	"github.com/yoockh/smartattend/internal/logger"
	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/services"
	"github.com/yoockh/smartattend/internal/utils"
	"github.com/yoockh/smartattend/internal/voice"
)

const maxResponseBytes = 4 << 20

type Options struct {
	// Token is sent as a bearer token on every request.
	Token  string
	HTTP   *http.Client
	Logger *logrus.Logger
}

// Client implements the head-count, transcription, roster and commit
// contracts against the HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   *logrus.Logger
}

func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}
	hc := opts.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{base: u, token: opts.Token, http: hc, log: logger.OrDiscard(opts.Logger)}, nil
}

// HTTPClient exposes the underlying client, mostly for tests.
func (c *Client) HTTPClient() *http.Client { return c.http }

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
	Error   string     `json:"error"` // processing endpoints
}

type countResponse struct {
	Count    int    `json:"count"`
	Filename string `json:"filename"`
}

type rollCallResponse struct {
	Text        string         `json:"text"`
	RollNumbers []models.RegNo `json:"roll_numbers"`
	Filename    string         `json:"filename"`
}

// GetHeadcount posts the still to /count-students.
func (c *Client) GetHeadcount(ctx context.Context, a capture.Artifact) (int, error) {
	const op = "Client.GetHeadcount"

	body, ctype, err := multipartBody("image", "capture"+extFor(a.MimeType), a.MimeType, a.Data)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to build request", err)
	}
	var out countResponse
	if err := c.do(ctx, http.MethodPost, "/count-students", ctype, body, &out); err != nil {
		return 0, utils.E(utils.CodeOf(err), op, "headcount request failed", err)
	}
	return out.Count, nil
}

// ProcessRollCall posts the recording to /process-rollcall. Roll numbers may
// come back as JSON numbers or strings.
func (c *Client) ProcessRollCall(ctx context.Context, audio voice.AudioBlob) (*voice.RollCallResult, error) {
	const op = "Client.ProcessRollCall"

	body, ctype, err := multipartBody("audio", "rollcall"+extFor(audio.MimeType), audio.MimeType, audio.Data)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to build request", err)
	}
	var out rollCallResponse
	if err := c.do(ctx, http.MethodPost, "/process-rollcall", ctype, body, &out); err != nil {
		return nil, utils.E(utils.CodeOf(err), op, "roll call request failed", err)
	}
	res := &voice.RollCallResult{Text: out.Text, Filename: out.Filename}
	for _, n := range out.RollNumbers {
		res.RollNumbers = append(res.RollNumbers, n.String())
	}
	return res, nil
}

// GetStudentsBySemester fetches the roster.
func (c *Client) GetStudentsBySemester(ctx context.Context, semesterID string) ([]models.Student, error) {
	const op = "Client.GetStudentsBySemester"

	var out []models.Student
	path := "/api/v1/semesters/" + url.PathEscape(semesterID) + "/students"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, utils.E(utils.CodeOf(err), op, "roster request failed", err)
	}
	return out, nil
}

// Commit saves a reviewed session and returns its id.
func (c *Client) Commit(ctx context.Context, req services.CommitRequest) (string, error) {
	const op = "Client.Commit"

	b, err := json.Marshal(req)
	if err != nil {
		return "", utils.E(utils.CodeInvalidArgument, op, "invalid attendance session", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/attendance", "application/json", bytes.NewReader(b), &out); err != nil {
		return "", utils.E(utils.CodeSaveFailed, op, "failed to save attendance", err)
	}
	return out.ID, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, dst any) error {
	const op = "Client.do"

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Warn("backend request failed")
		return utils.E(utils.CodeUnavailable, op, "backend unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to read response", err)
	}
	c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("backend request")

	if resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, raw)
	}
	if dst == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return utils.E(utils.CodeInternal, op, "invalid response body", err)
	}
	return nil
}

func statusError(op string, status int, raw []byte) error {
	var ae apiError
	_ = json.Unmarshal(raw, &ae)

	msg := ae.Message
	if msg == "" {
		msg = ae.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := ae.Code
	if code == "" {
		code = codeForStatus(status)
	}
	return utils.E(code, op, msg, fmt.Errorf("backend returned %d", status))
}

func codeForStatus(status int) utils.Code {
	switch status {
	case http.StatusBadRequest:
		return utils.CodeInvalidArgument
	case http.StatusUnauthorized:
		return utils.CodeUnauthorized
	case http.StatusForbidden:
		return utils.CodeForbidden
	case http.StatusNotFound:
		return utils.CodeNotFound
	case http.StatusConflict:
		return utils.CodeConflict
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return utils.CodeUnavailable
	default:
		return utils.CodeInternal
	}
}

func multipartBody(field, filename, mimeType string, data []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func extFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	case "audio/wav":
		return ".wav"
	case "audio/webm":
		return ".webm"
	default:
		return ""
	}
}
