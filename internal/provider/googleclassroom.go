package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/natsumeaurlia/exam-forge-integrations/internal/models"
	"github.com/natsumeaurlia/exam-forge-integrations/pkg/retry"
)

const lmsPageSize = "100"

// LMSStore persists normalized roster/course/assignment records.
type LMSStore interface {
	UpsertCourse(ctx context.Context, course *models.LMSCourse) error
	UpsertUser(ctx context.Context, user *models.LMSUser) error
	UpsertAssignment(ctx context.Context, assignment *models.LMSAssignment) error
}

// LMSOptions tunes the external API client.
type LMSOptions struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  int
	RateWindow time.Duration
}

// GoogleClassroomProvider pulls roster/course/assignment data from the
// Google Classroom REST API and pushes grades back.
type GoogleClassroomProvider struct {
	Core

	opts   LMSOptions
	client *http.Client
	store  LMSStore
}

// NewGoogleClassroomProvider builds the provider for one LMS integration.
func NewGoogleClassroomProvider(integration *models.Integration, events EventStore, store LMSStore, svc Services, opts LMSOptions) *GoogleClassroomProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://classroom.googleapis.com/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &GoogleClassroomProvider{
		Core:   NewCore(integration, events, svc),
		opts:   opts,
		client: &http.Client{},
		store:  store,
	}
}

// Connect probes the API with a single-course listing to confirm
// reachability and token validity, then activates the integration.
func (p *GoogleClassroomProvider) Connect(ctx context.Context) error {
	if _, err := p.makeRequest(ctx, http.MethodGet, "/courses", url.Values{"pageSize": {"1"}}, nil); err != nil {
		p.HandleError(ctx, err, "connect")
		return err
	}
	if err := p.UpdateStatus(ctx, models.IntegrationStatusActive); err != nil {
		return err
	}
	p.Events.Log(ctx, "connected", models.EventStatusSuccess, "google classroom connected", nil, 0)
	return nil
}

// Disconnect deactivates the integration.
func (p *GoogleClassroomProvider) Disconnect(ctx context.Context) error {
	if err := p.UpdateStatus(ctx, models.IntegrationStatusInactive); err != nil {
		return err
	}
	p.Events.Log(ctx, "disconnected", models.EventStatusInfo, "google classroom disconnected", nil, 0)
	return nil
}

// TestConnection reports false without credentials and otherwise swallows
// probe errors into a boolean.
func (p *GoogleClassroomProvider) TestConnection(ctx context.Context) bool {
	creds, err := p.DecryptedCredentials()
	if err != nil || creds["accessToken"] == "" {
		return false
	}
	_, err = p.makeRequest(ctx, http.MethodGet, "/courses", url.Values{"pageSize": {"1"}}, nil)
	return err == nil
}

// Sync dispatches one sync pass. Failures come back as data on the
// operation, never as a thrown error at this boundary.
func (p *GoogleClassroomProvider) Sync(ctx context.Context, op *models.SyncOperation) *models.SyncOperation {
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	if err := p.ValidateConnection(ctx, p); err != nil {
		op.Fail(err.Error(), ErrorCode(err))
		return op
	}

	start := time.Now()
	switch op.Type {
	case models.SyncTypeRoster:
		p.syncRoster(ctx, op)
	case models.SyncTypeCourses:
		p.syncCourses(ctx, op)
	case models.SyncTypeAssignments:
		p.syncAssignments(ctx, op)
	case models.SyncTypeGrades:
		// Grade passback flows through PassbackGrade; batch grade sync is
		// reported as an immediate empty completion.
		op.Complete()
		return op
	default:
		err := NewError(CodeUnsupportedSyncType, fmt.Sprintf("unsupported sync type %q", op.Type))
		p.HandleError(ctx, err, "sync")
		op.Fail(err.Error(), CodeUnsupportedSyncType)
		return op
	}

	op.Complete()
	if err := p.UpdateLastSync(ctx); err != nil {
		p.Zap().Sugar().Errorw("failed to stamp last sync", "integration_id", p.Integration.ID, "error", err)
	}
	status := models.EventStatusSuccess
	if op.Status == models.SyncStatusFailed {
		status = models.EventStatusError
	}
	p.Events.Log(ctx, "sync_"+string(op.Type), status,
		fmt.Sprintf("%s sync processed %d records (%d failed)", op.Type, op.RecordsProcessed, op.RecordsFailed),
		models.JSONMap{"succeeded": op.RecordsSucceeded, "failed": op.RecordsFailed}, time.Since(start))
	return op
}

func (p *GoogleClassroomProvider) syncRoster(ctx context.Context, op *models.SyncOperation) {
	courses, err := p.getAllCourses(ctx, op)
	if err != nil {
		op.Fail(err.Error(), ErrorCode(err))
		return
	}
	for _, course := range courses {
		students, err := p.fetchAll(ctx, fmt.Sprintf("/courses/%s/students", course.ExternalID), "students")
		if err != nil {
			op.RecordFailure(course.ExternalID, err.Error(), ErrorCode(err))
			continue
		}
		for _, raw := range students {
			p.processUser(ctx, op, raw, course.ExternalID, models.LMSRoleStudent)
		}

		teachers, err := p.fetchAll(ctx, fmt.Sprintf("/courses/%s/teachers", course.ExternalID), "teachers")
		if err != nil {
			op.RecordFailure(course.ExternalID, err.Error(), ErrorCode(err))
			continue
		}
		for _, raw := range teachers {
			p.processUser(ctx, op, raw, course.ExternalID, models.LMSRoleTeacher)
		}
	}
}

func (p *GoogleClassroomProvider) syncCourses(ctx context.Context, op *models.SyncOperation) {
	items, err := p.fetchAll(ctx, "/courses", "courses")
	if err != nil {
		op.Fail(err.Error(), ErrorCode(err))
		return
	}
	for _, raw := range items {
		course, err := p.transformCourse(raw)
		if err != nil {
			op.RecordFailure(externalID(raw), err.Error(), CodeInvalidConfig)
			continue
		}
		if err := p.store.UpsertCourse(ctx, course); err != nil {
			op.RecordFailure(course.ExternalID, err.Error(), "PERSIST_FAILED")
			continue
		}
		op.RecordSuccess()
	}
}

func (p *GoogleClassroomProvider) syncAssignments(ctx context.Context, op *models.SyncOperation) {
	courses, err := p.getAllCourses(ctx, op)
	if err != nil {
		op.Fail(err.Error(), ErrorCode(err))
		return
	}
	for _, course := range courses {
		items, err := p.fetchAll(ctx, fmt.Sprintf("/courses/%s/courseWork", course.ExternalID), "courseWork")
		if err != nil {
			op.RecordFailure(course.ExternalID, err.Error(), ErrorCode(err))
			continue
		}
		for _, raw := range items {
			assignment, err := p.transformAssignment(raw, course.ExternalID)
			if err != nil {
				op.RecordFailure(externalID(raw), err.Error(), CodeInvalidConfig)
				continue
			}
			if err := p.store.UpsertAssignment(ctx, assignment); err != nil {
				op.RecordFailure(assignment.ExternalID, err.Error(), "PERSIST_FAILED")
				continue
			}
			op.RecordSuccess()
		}
	}
}

// processUser transforms and persists one roster member; failures are
// recorded on the operation and never abort the batch.
func (p *GoogleClassroomProvider) processUser(ctx context.Context, op *models.SyncOperation, raw json.RawMessage, courseID string, role models.LMSRole) {
	user, err := p.transformUser(raw, courseID, role)
	if err != nil {
		op.RecordFailure(externalID(raw), err.Error(), CodeInvalidConfig)
		return
	}
	if err := p.store.UpsertUser(ctx, user); err != nil {
		op.RecordFailure(user.ExternalID, err.Error(), "PERSIST_FAILED")
		return
	}
	op.RecordSuccess()
}

// PublishAssignment creates a courseWork item on the external system and
// returns its external id.
func (p *GoogleClassroomProvider) PublishAssignment(ctx context.Context, assignment *models.LMSAssignment) (string, error) {
	state := "DRAFT"
	if assignment.Published {
		state = "PUBLISHED"
	}
	body := map[string]interface{}{
		"title":    assignment.Title,
		"workType": "ASSIGNMENT",
		"state":    state,
	}
	if assignment.MaxPoints != nil {
		body["maxPoints"] = *assignment.MaxPoints
	}
	if assignment.DueAt != nil {
		due := assignment.DueAt.UTC()
		body["dueDate"] = map[string]int{
			"year":  due.Year(),
			"month": int(due.Month()),
			"day":   due.Day(),
		}
	}

	data, err := p.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/courses/%s/courseWork", assignment.CourseID), nil, body)
	if err != nil {
		p.HandleError(ctx, err, "publish_assignment")
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("decode created coursework: %w", err)
	}
	p.Events.Log(ctx, "assignment_published", models.EventStatusSuccess,
		fmt.Sprintf("published assignment %q", assignment.Title),
		models.JSONMap{"external_id": created.ID, "course_id": assignment.CourseID}, 0)
	return created.ID, nil
}

// PassbackGrade pushes a score to an external submission record.
func (p *GoogleClassroomProvider) PassbackGrade(ctx context.Context, grade *models.GradeData) error {
	endpoint := fmt.Sprintf("/courses/%s/courseWork/%s/studentSubmissions/%s",
		grade.CourseID, grade.AssignmentID, grade.UserID)
	body := map[string]interface{}{
		"assignedGrade": grade.Grade,
		"draftGrade":    grade.Grade,
	}
	if _, err := p.makeRequest(ctx, http.MethodPatch, endpoint, nil, body); err != nil {
		p.HandleError(ctx, err, "passback_grade")
		return err
	}
	p.Events.Log(ctx, "grade_passback", models.EventStatusSuccess,
		fmt.Sprintf("pushed grade %.1f/%.1f", grade.Grade, grade.MaxScore),
		models.JSONMap{"course_id": grade.CourseID, "assignment_id": grade.AssignmentID, "user_id": grade.UserID}, 0)
	return nil
}

func (p *GoogleClassroomProvider) getAllCourses(ctx context.Context, op *models.SyncOperation) ([]*models.LMSCourse, error) {
	items, err := p.fetchAll(ctx, "/courses", "courses")
	if err != nil {
		return nil, err
	}
	courses := make([]*models.LMSCourse, 0, len(items))
	for _, raw := range items {
		course, err := p.transformCourse(raw)
		if err != nil {
			// A malformed course still counts against the operation.
			op.RecordFailure(externalID(raw), err.Error(), CodeInvalidConfig)
			continue
		}
		courses = append(courses, course)
	}
	return courses, nil
}

// fetchAll walks every page of a list endpoint, collecting the named item
// array until the API stops returning nextPageToken.
func (p *GoogleClassroomProvider) fetchAll(ctx context.Context, endpoint, itemsField string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	pageToken := ""
	for {
		params := url.Values{"pageSize": {lmsPageSize}}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}
		data, err := p.makeRequest(ctx, http.MethodGet, endpoint, params, nil)
		if err != nil {
			return nil, err
		}

		var page map[string]json.RawMessage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("decode list page: %w", err)
		}
		if rawItems, ok := page[itemsField]; ok {
			var pageItems []json.RawMessage
			if err := json.Unmarshal(rawItems, &pageItems); err != nil {
				return nil, fmt.Errorf("decode %s items: %w", itemsField, err)
			}
			items = append(items, pageItems...)
		}

		pageToken = ""
		if rawToken, ok := page["nextPageToken"]; ok {
			_ = json.Unmarshal(rawToken, &pageToken)
		}
		if pageToken == "" {
			return items, nil
		}
	}
}

// makeRequest is the single HTTP boundary for this provider: bearer auth,
// bounded by the configured timeout, retried with backoff for transient
// failures only.
func (p *GoogleClassroomProvider) makeRequest(ctx context.Context, method, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	creds, err := p.DecryptedCredentials()
	if err != nil {
		return nil, err
	}
	token := creds["accessToken"]
	if token == "" {
		return nil, NewError(CodeNoAccessToken, "integration has no access token")
	}

	target := strings.TrimRight(p.opts.BaseURL, "/") + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var result []byte
	err = retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		if p.Limiter() != nil && p.opts.RateLimit > 0 {
			if err := p.Limiter().Wait(ctx, "lms:"+p.Integration.ID, p.opts.RateLimit, p.opts.RateWindow); err != nil {
				return err
			}
		}

		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request body: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		reqCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
		if err != nil {
			return fmt.Errorf("build lms request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return NewRetryableError(CodeHTTPError, err.Error())
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return NewRetryableError(CodeHTTPError, err.Error())
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return HTTPError(CodeHTTPError, resp.StatusCode, strings.TrimSpace(string(data)))
		}
		result = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (p *GoogleClassroomProvider) transformCourse(raw json.RawMessage) (*models.LMSCourse, error) {
	var src struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Section     string `json:"section"`
		CourseState string `json:"courseState"`
	}
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decode course: %w", err)
	}
	if src.ID == "" {
		return nil, fmt.Errorf("course missing id")
	}
	extras := models.JSONMap{}
	_ = json.Unmarshal(raw, &extras)

	course := &models.LMSCourse{
		ID:         uuid.NewString(),
		ExternalID: src.ID,
		TeamID:     p.Integration.TeamID,
		Name:       src.Name,
		State:      src.CourseState,
		Metadata:   extras,
		UpdatedAt:  time.Now().UTC(),
	}
	if src.Section != "" {
		course.Section = &src.Section
	}
	return course, nil
}

func (p *GoogleClassroomProvider) transformUser(raw json.RawMessage, courseID string, role models.LMSRole) (*models.LMSUser, error) {
	var src struct {
		UserID  string `json:"userId"`
		Profile struct {
			ID   string `json:"id"`
			Name struct {
				FullName string `json:"fullName"`
			} `json:"name"`
			EmailAddress string `json:"emailAddress"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decode roster member: %w", err)
	}
	external := src.UserID
	if external == "" {
		external = src.Profile.ID
	}
	if external == "" {
		return nil, fmt.Errorf("roster member missing user id")
	}
	extras := models.JSONMap{}
	_ = json.Unmarshal(raw, &extras)

	user := &models.LMSUser{
		ID:         uuid.NewString(),
		ExternalID: external,
		TeamID:     p.Integration.TeamID,
		CourseID:   courseID,
		Name:       src.Profile.Name.FullName,
		Role:       role,
		Metadata:   extras,
		UpdatedAt:  time.Now().UTC(),
	}
	if src.Profile.EmailAddress != "" {
		user.Email = &src.Profile.EmailAddress
	}
	return user, nil
}

func (p *GoogleClassroomProvider) transformAssignment(raw json.RawMessage, courseID string) (*models.LMSAssignment, error) {
	var src struct {
		ID        string   `json:"id"`
		Title     string   `json:"title"`
		MaxPoints *float64 `json:"maxPoints"`
		State     string   `json:"state"`
		DueDate   *struct {
			Year  int `json:"year"`
			Month int `json:"month"`
			Day   int `json:"day"`
		} `json:"dueDate"`
	}
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, fmt.Errorf("decode coursework: %w", err)
	}
	if src.ID == "" {
		return nil, fmt.Errorf("coursework missing id")
	}
	extras := models.JSONMap{}
	_ = json.Unmarshal(raw, &extras)

	assignment := &models.LMSAssignment{
		ID:         uuid.NewString(),
		ExternalID: src.ID,
		TeamID:     p.Integration.TeamID,
		CourseID:   courseID,
		Title:      src.Title,
		MaxPoints:  src.MaxPoints,
		Published:  src.State == "PUBLISHED",
		Metadata:   extras,
		UpdatedAt:  time.Now().UTC(),
	}
	if src.DueDate != nil {
		due := time.Date(src.DueDate.Year, time.Month(src.DueDate.Month), src.DueDate.Day, 0, 0, 0, 0, time.UTC)
		assignment.DueAt = &due
	}
	return assignment, nil
}

// externalID pulls a best-effort identifier out of an untransformed record
// for error reporting.
func externalID(raw json.RawMessage) string {
	var probe struct {
		ID     string `json:"id"`
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "unknown"
	}
	if probe.ID != "" {
		return probe.ID
	}
	if probe.UserID != "" {
		return probe.UserID
	}
	return "unknown"
}
