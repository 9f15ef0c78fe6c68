package job

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/michaelayoade/dotmac-jobs/common"
	"github.com/michaelayoade/dotmac-jobs/internal/dto"
	"github.com/michaelayoade/dotmac-jobs/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// RegisterRoutes wires all job endpoints onto the router group.
func (h *JobHandler) RegisterRoutes(r gin.IRouter) {
	jobs := r.Group("/jobs")
	jobs.POST("", h.Create)
	jobs.GET("", h.List)
	jobs.GET("/dashboard", h.Dashboard)
	jobs.GET("/stats", h.Stats)
	jobs.GET("/queues", h.Queues)
	jobs.GET("/:id", h.Get)
	jobs.GET("/:id/logs", h.Logs)
	jobs.GET("/:id/progress", h.Progress)
	jobs.POST("/:id/retry", h.Retry)
	jobs.POST("/:id/cancel", h.Cancel)
}

func jobID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "invalid job ID"})
		return "", false
	}
	return id, true
}

// Create handles HTTP requests for submitting a new job. It validates and
// binds the request body, delegates to the JobService, and returns HTTP 201
// with the created job on success.
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	created, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, created)
}

// Get handles HTTP requests to fetch full job detail by ID.
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	resp, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles HTTP requests for paginated job summaries, filtered by
// status, job type, and queue.
func (h *JobHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	resp, err := h.service.ListJobs(c.Request.Context(), dto.ListParams{
		Status:   c.Query("status"),
		JobType:  c.Query("jobType"),
		Queue:    c.Query("queue"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Logs handles HTTP requests for a job's log entries in append order.
func (h *JobHandler) Logs(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	logs, err := h.service.GetLogs(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, logs)
}

// Progress handles HTTP requests for a job's progress snapshot.
func (h *JobHandler) Progress(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	progress, err := h.service.GetProgress(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, progress)
}

// Retry handles HTTP requests to re-queue a failed job. Returns HTTP 202;
// repeating the call on an already-pending job is a no-op, not an error.
func (h *JobHandler) Retry(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.service.RetryJob(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "retry requested"})
}

// Cancel handles HTTP requests to cancel a job. Returns HTTP 202
// immediately; for running jobs the state transition is asynchronous.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.service.CancelJob(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// Dashboard handles HTTP requests for aggregate alerts and summary stats.
func (h *JobHandler) Dashboard(c *gin.Context) {
	resp, err := h.service.Dashboard(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Stats handles HTTP requests for job counts and average duration.
func (h *JobHandler) Stats(c *gin.Context) {
	resp, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Queues handles HTTP requests for per-queue size/active counts.
func (h *JobHandler) Queues(c *gin.Context) {
	resp, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
