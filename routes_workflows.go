package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"content-forge/models"
	"content-forge/store"
	"content-forge/templates"
	"content-forge/workflow"
)

// setupWorkflowRoutes konfiguriert die Workflow-Endpunkte.
func setupWorkflowRoutes(router *gin.RouterGroup, st *store.Store, runner *workflow.Runner, tpls *templates.Store, log *zap.Logger) {
	rg := router.Group("/workflows")

	// GET - Eigene und globale Workflows
	rg.GET("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		var list []models.Workflow
		if err := st.DB().
			Where("account_id = ? OR account_id IS NULL", accountID).
			Order("id").Find(&list).Error; err != nil {
			log.Error("Workflow list query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	// POST - Mandanten-Workflow anlegen
	rg.POST("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		var req struct {
			Name  string                `json:"name" binding:"required"`
			Steps []models.WorkflowStep `json:"steps" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body. 'name' and 'steps' are required."})
			return
		}
		if err := workflow.ValidateSteps(req.Steps); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		// Template-Referenzen müssen für den Mandanten auflösbar sein.
		for _, step := range req.Steps {
			if _, err := tpls.Get(step.TemplateID, accountID); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "step " + step.Name + ": template not resolvable"})
				return
			}
		}
		wf := models.Workflow{
			AccountID: &accountID,
			Name:      req.Name,
			Active:    true,
			Steps:     req.Steps,
		}
		if err := st.DB().Create(&wf).Error; err != nil {
			log.Error("Workflow create failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": wf})
	})

	// GET - Einzelner Workflow (mandantenbevorzugt)
	rg.GET("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid workflow id"})
			return
		}
		wf, err := runner.GetWorkflow(uint(id), accountID)
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "workflow not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": wf})
	})

	// PUT - Steps eines Mandanten-Workflows ersetzen
	rg.PUT("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid workflow id"})
			return
		}
		var req struct {
			Name   string                `json:"name"`
			Active *bool                 `json:"active"`
			Steps  []models.WorkflowStep `json:"steps"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		var wf models.Workflow
		if err := st.DB().Where("id = ? AND account_id = ?", id, accountID).First(&wf).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "workflow not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		if req.Steps != nil {
			if err := workflow.ValidateSteps(req.Steps); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
				return
			}
			wf.Steps = req.Steps
		}
		if req.Name != "" {
			wf.Name = req.Name
		}
		if req.Active != nil {
			wf.Active = *req.Active
		}
		if err := st.DB().Save(&wf).Error; err != nil {
			log.Error("Workflow update failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		runner.InvalidateWorkflow(wf.ID)
		c.JSON(http.StatusOK, gin.H{"success": true, "data": wf})
	})

	// DELETE - Mandanten-Workflow entfernen
	rg.DELETE("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid workflow id"})
			return
		}
		res := st.DB().Where("id = ? AND account_id = ?", id, accountID).Delete(&models.Workflow{})
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		if res.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "workflow not found"})
			return
		}
		runner.InvalidateWorkflow(uint(id))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// POST - Dry-Run: Workflow mit Beispiel-Inputs ausführen, ohne
	// Content-Persistenz. Response-Logs entstehen trotzdem.
	rg.POST("/:id/execute", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid workflow id"})
			return
		}
		var req struct {
			Inputs map[string]any `json:"inputs"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		if req.Inputs == nil {
			req.Inputs = map[string]any{}
		}

		run, err := runner.Run(c.Request.Context(), uint(id), req.Inputs, accountID, nil)
		if errors.Is(err, workflow.ErrWorkflowNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "workflow not found"})
			return
		}
		if err != nil {
			var stepErr *workflow.StepError
			if errors.As(err, &stepErr) {
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "data": gin.H{"failed_step": stepErr.Step}})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": run})
	})
}
