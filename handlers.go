package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db         *gorm.DB
	store      *Store
	dispatcher *Dispatcher
	bot        *Bot
	mail       MailClient
	scheduler  *Scheduler
	metrics    *Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, store *Store, dispatcher *Dispatcher, bot *Bot, mail MailClient, scheduler *Scheduler, metrics *Metrics) *Handlers {
	return &Handlers{
		db:         db,
		store:      store,
		dispatcher: dispatcher,
		bot:        bot,
		mail:       mail,
		scheduler:  scheduler,
		metrics:    metrics,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks
	router.POST("/api/webhook/mail", h.MailWebhook)
	router.POST("/api/webhook/telegram", h.TelegramWebhook)

	// API routes
	api := router.Group("/api/v1")
	{
		// Dispatch logs
		api.GET("/logs", h.GetLogs)
		api.GET("/logs/:id", h.GetLog)

		// Mail subscription
		api.GET("/subscription", h.GetSubscription)
		api.POST("/subscription", h.CreateSubscription)
		api.POST("/subscription/renew", h.RenewSubscription)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// MailWebhook handles Graph change notifications. The provider treats a slow
// response as a failed delivery and redelivers, so the handler acknowledges
// first and processes in a detached goroutine behind the dedup gate.
func (h *Handlers) MailWebhook(c *gin.Context) {
	// Subscription validation handshake: echo the token as plain text
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, token)
		return
	}

	var payload GraphChangePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logrus.Warnf("Malformed mail webhook payload: %v", err)
		c.Status(http.StatusAccepted)
		return
	}

	messageIDs := payload.MessageIDs()
	logrus.Infof("Mail webhook: %d notification(s), %d message id(s)", len(payload.Value), len(messageIDs))
	c.Status(http.StatusAccepted)

	if len(messageIDs) == 0 {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("Panic while processing mail notification: %v", r)
			}
		}()
		h.dispatcher.HandleMailNotification(context.Background(), messageIDs)
	}()
}

// TelegramWebhook handles Telegram updates, acknowledging immediately and
// processing in a detached goroutine.
func (h *Handlers) TelegramWebhook(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		logrus.Warnf("Malformed Telegram update: %v", err)
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusOK)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("Panic while processing Telegram update: %v", r)
			}
		}()
		h.bot.HandleUpdate(context.Background(), &update)
	}()
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Metrics:   make(map[string]string),
	}

	// Check database connection
	if err := h.db.Raw("SELECT 1").Error; err != nil {
		response.Status = "error"
		response.Database = "error"
		logrus.Errorf("Database health check failed: %v", err)
	}

	// Check scheduler status
	if h.scheduler.IsRunning() {
		response.Metrics["scheduler"] = "running"
		response.Metrics["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		response.Metrics["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	} else {
		response.Metrics["scheduler"] = "stopped"
	}

	if count, err := h.store.CountSubscribers(); err == nil {
		response.Metrics["subscribers"] = strconv.FormatInt(count, 10)
	}

	statusCode := http.StatusOK
	if response.Status == "error" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// GetLogs returns dispatch logs with pagination
func (h *Handlers) GetLogs(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 50
	}

	offset := (page - 1) * limit

	var logs []DispatchLog
	var total int64

	// Get total count
	if err := h.db.Model(&DispatchLog{}).Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to count logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	// Get logs with pagination
	if err := h.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch logs",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	// Convert to response format
	var responses []DispatchLogResponse
	for _, log := range logs {
		responses = append(responses, DispatchLogResponse{
			ID:        log.ID,
			MessageID: log.MessageID,
			Status:    log.Status,
			ErrorMsg:  log.ErrorMsg,
			CreatedAt: log.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":  responses,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// GetLog returns a specific dispatch log entry
func (h *Handlers) GetLog(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid log ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	var log DispatchLog
	if err := h.db.First(&log, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Log entry not found",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch log entry",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, DispatchLogResponse{
		ID:        log.ID,
		MessageID: log.MessageID,
		Status:    log.Status,
		ErrorMsg:  log.ErrorMsg,
		CreatedAt: log.CreatedAt,
	})
}

// GetSubscription returns the stored mail subscription metadata
func (h *Handlers) GetSubscription(c *gin.Context) {
	sub, err := h.store.GetSubscriptionInfo()
	if err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "No mail subscription stored",
				Code:    http.StatusNotFound,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch subscription",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, SubscriptionResponse{
		SubscriptionID: sub.SubscriptionID,
		Resource:       sub.Resource,
		ExpiresAt:      sub.ExpiresAt,
		UpdatedAt:      sub.UpdatedAt,
	})
}

// CreateSubscription registers a new Graph change-notification subscription
func (h *Handlers) CreateSubscription(c *gin.Context) {
	info, err := h.mail.CreateSubscription(c.Request.Context())
	if err != nil {
		logrus.Errorf("Failed to create mail subscription: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "graph_error",
			Message: "Failed to create subscription",
			Code:    http.StatusBadGateway,
		})
		return
	}

	if err := h.store.SaveSubscriptionInfo(info); err != nil {
		logrus.Errorf("Failed to persist mail subscription: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Subscription created but not persisted",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusCreated, SubscriptionResponse{
		SubscriptionID: info.ID,
		Resource:       info.Resource,
		ExpiresAt:      info.ExpiresAt,
	})
}

// RenewSubscription forces a renewal check regardless of the schedule
func (h *Handlers) RenewSubscription(c *gin.Context) {
	if err := h.scheduler.RenewIfExpiring(c.Request.Context()); err != nil {
		logrus.Errorf("Manual subscription renewal failed: %v", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "graph_error",
			Message: "Failed to renew subscription",
			Code:    http.StatusBadGateway,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// StartScheduler starts the maintenance scheduler
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// StopScheduler stops the maintenance scheduler
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// RunOnce triggers the maintenance jobs immediately
func (h *Handlers) RunOnce(c *gin.Context) {
	if err := h.scheduler.RunOnce(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "scheduler_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSchedulerStatus reports whether the scheduler is running
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := gin.H{"running": h.scheduler.IsRunning()}
	if h.scheduler.IsRunning() {
		status["next_run"] = h.scheduler.GetNextRun().Format(time.RFC3339)
		status["last_run"] = h.scheduler.GetLastRun().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, status)
}
