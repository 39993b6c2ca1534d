package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/jobs"
)

// setupJobRoutes konfiguriert die Job-Queue-Endpunkte.
func setupJobRoutes(router *gin.RouterGroup, queue *jobs.Queue, log *zap.Logger) {
	rg := router.Group("/jobs")

	// POST - Job einreihen
	rg.POST("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		var req struct {
			Type      string       `json:"type" binding:"required"`
			Payload   jobs.Payload `json:"payload"`
			Priority  int          `json:"priority"`
			CreatedBy string       `json:"created_by"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body. 'type' field is required."})
			return
		}
		job, err := queue.Enqueue(req.Type, req.Payload, req.Priority, req.CreatedBy, accountID)
		if err != nil {
			log.Error("Enqueue failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": job})
	})

	// GET - Jobs auflisten (?status=&limit=)
	rg.GET("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		list, err := queue.List(accountID, c.Query("status"), limit)
		if err != nil {
			log.Error("Job list query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	// GET - Einzelner Job mit Progress und Results
	rg.GET("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid job id"})
			return
		}
		job, err := queue.Get(uint(id), accountID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
	})

	// POST - Stornierung anfordern (advisory)
	rg.POST("/:id/cancel", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid job id"})
			return
		}
		job, err := queue.Cancel(uint(id), accountID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
			return
		}
		if err != nil {
			log.Error("Cancel failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
	})

	// POST - Fehlgeschlagenen Job erneut einreihen
	rg.POST("/:id/retry", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid job id"})
			return
		}
		job, err := queue.Retry(uint(id), accountID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
			return
		}
		if errors.Is(err, jobs.ErrNotRetryable) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "job is not retryable"})
			return
		}
		if err != nil {
			log.Error("Retry failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
	})
}
