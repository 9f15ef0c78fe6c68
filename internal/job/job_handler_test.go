package job

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/dto"
	"github.com/michaelayoade/dotmac-jobs/internal/mocks"
	"github.com/michaelayoade/dotmac-jobs/middleware"
)

const testJobID = "6be1cd45-2072-4b9a-98cb-2df18eab3ba3"

func setupRouter(mockService *mocks.JobServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middleware.ErrorHandler())
	NewJobHandler(mockService).RegisterRoutes(r)
	return r
}

func TestJobHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
	}{
		{
			name: "successful job creation",
			body: `{"job_type":"send_email","queue":"email","payload":{"to":"a@b.com","subject":"hi","body":"text"}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.Anything).
					Return(&dto.JobDetailDTO{ID: testJobID, Status: "pending"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid request body JSON",
			body:           "{invalid json}",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid queue",
			body: `{"job_type":"send_email","queue":"bogus","payload":{}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.Anything).
					Return(nil, common.NewAPIError(http.StatusBadRequest, "invalid queue", map[string]any{
						"provided": "bogus",
					}))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "engine failure",
			body: `{"job_type":"send_email","queue":"email","payload":{}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.Anything).
					Return(nil, common.Errf(http.StatusInternalServerError, "failed to enqueue job"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)
			r := setupRouter(mockService)

			req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestJobHandler_Get(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
	}{
		{
			name: "found",
			id:   testJobID,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("GetJob", mock.Anything, testJobID).
					Return(&dto.JobDetailDTO{ID: testJobID, Status: "running"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "unknown id",
			id:   testJobID,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("GetJob", mock.Anything, testJobID).
					Return(nil, common.Errf(http.StatusNotFound, "job not found"))
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "malformed id",
			id:             "not-a-uuid",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)
			r := setupRouter(mockService)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+tt.id, nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestJobHandler_List(t *testing.T) {
	mockService := new(mocks.JobServiceMock)
	mockService.On("ListJobs", mock.Anything, dto.ListParams{
		Status:   "pending",
		JobType:  "send_email",
		Queue:    "email",
		Page:     2,
		PageSize: 10,
	}).Return(&dto.JobListDTO{Jobs: []dto.JobSummaryDTO{}, Page: 2, PageSize: 10, Total: 0}, nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/jobs?status=pending&jobType=send_email&queue=email&page=2&pageSize=10", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.JobListDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Page)
	mockService.AssertExpectations(t)
}

func TestJobHandler_Logs(t *testing.T) {
	mockService := new(mocks.JobServiceMock)
	mockService.On("GetLogs", mock.Anything, testJobID).Return([]dto.LogEntryDTO{
		{Timestamp: time.Now(), Level: "info", Message: "started"},
	}, nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID+"/logs", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}

func TestJobHandler_Progress(t *testing.T) {
	processed, total := 3, 9
	mockService := new(mocks.JobServiceMock)
	mockService.On("GetProgress", mock.Anything, testJobID).Return(&dto.ProgressDTO{
		ProgressPercent: 33,
		ItemsProcessed:  &processed,
		ItemsTotal:      &total,
		CurrentItem:     "row 3",
	}, nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/"+testJobID+"/progress", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.ProgressDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 33, resp.ProgressPercent)
	assert.Equal(t, "row 3", resp.CurrentItem)
}

func TestJobHandler_Retry(t *testing.T) {
	tests := []struct {
		name           string
		serviceErr     error
		expectedStatus int
	}{
		{name: "accepted", expectedStatus: http.StatusAccepted},
		{name: "wrong state", serviceErr: common.Errf(http.StatusConflict, "retry completed job"), expectedStatus: http.StatusConflict},
		{name: "not found", serviceErr: common.Errf(http.StatusNotFound, "job not found"), expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			mockService.On("RetryJob", mock.Anything, testJobID).Return(tt.serviceErr)
			r := setupRouter(mockService)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+testJobID+"/retry", nil))

			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestJobHandler_Cancel(t *testing.T) {
	mockService := new(mocks.JobServiceMock)
	mockService.On("CancelJob", mock.Anything, testJobID).Return(nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/jobs/"+testJobID+"/cancel", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	mockService.AssertExpectations(t)
}

func TestJobHandler_Dashboard(t *testing.T) {
	mockService := new(mocks.JobServiceMock)
	mockService.On("Dashboard", mock.Anything).Return(&dto.DashboardDTO{
		Alerts: []dto.AlertDTO{{JobID: testJobID, Kind: "stuck_running"}},
		Stats:  dto.StatsDTO{RunningJobs: 1},
	}, nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/dashboard", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.DashboardDTO
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "stuck_running", resp.Alerts[0].Kind)
}

func TestJobHandler_StatsAndQueues(t *testing.T) {
	mockService := new(mocks.JobServiceMock)
	mockService.On("Stats", mock.Anything).Return(&dto.StatsDTO{CompletedJobs: 4}, nil)
	mockService.On("QueueStats", mock.Anything).Return([]dto.QueueStatsDTO{
		{Name: "email", Size: 2, Active: 1},
	}, nil)
	r := setupRouter(mockService)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/queues", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}
