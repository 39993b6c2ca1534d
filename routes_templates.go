package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"content-forge/llm"
	"content-forge/store"
	"content-forge/templates"
)

// setupTemplateRoutes konfiguriert die Prompt-Template-Endpunkte.
func setupTemplateRoutes(router *gin.RouterGroup, tpls *templates.Store, gateway *llm.Gateway, log *zap.Logger) {
	rg := router.Group("/templates")

	// GET - Sichtbare Templates des Mandanten (eigene + globale)
	rg.GET("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		list, err := tpls.List(accountID)
		if err != nil {
			log.Error("Template list query failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
	})

	// GET - Sichtbare Kategorien
	rg.GET("/categories", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		cats, err := tpls.Categories(accountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": cats})
	})

	// POST - Template mit Version v1 anlegen
	rg.POST("/", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		var in templates.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		tpl, err := tpls.Create(in, &accountID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": tpl})
	})

	// GET - Template mit aktueller Version und Herkunft
	rg.GET("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid template id"})
			return
		}
		resolved, err := tpls.Get(uint(id), accountID)
		if errors.Is(err, templates.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": resolved})
	})

	// GET - Versionshistorie
	rg.GET("/:id/versions", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid template id"})
			return
		}
		versions, err := tpls.Versions(uint(id), accountID)
		if errors.Is(err, templates.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": versions})
	})

	// POST - Neue Version anhängen (append-only)
	rg.POST("/:id/versions", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid template id"})
			return
		}
		var in templates.UpdateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}
		version, err := tpls.Update(uint(id), in, accountID)
		if errors.Is(err, templates.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"success": true, "data": version})
	})

	// PUT - is_current atomar auf diese Version bewegen
	rg.PUT("/:id/versions/:vid/current", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		vid, err2 := strconv.ParseUint(c.Param("vid"), 10, 32)
		if err != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid id"})
			return
		}
		if err := tpls.SetCurrentVersion(uint(id), uint(vid), accountID); err != nil {
			if errors.Is(err, templates.ErrTemplateNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// DELETE - Mandanten-Template entfernen (globale sind hierüber tabu)
	rg.DELETE("/:id", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid template id"})
			return
		}
		if err := tpls.Delete(uint(id), accountID); err != nil {
			if errors.Is(err, templates.ErrTemplateNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// POST - Template mit Beispielvariablen testen. execute=true ruft das
	// LLM wirklich auf (Response-Log inklusive), sonst nur Substitution.
	rg.POST("/:id/test", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid template id"})
			return
		}
		var req struct {
			Variables map[string]any `json:"variables"`
			Execute   bool           `json:"execute"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
			return
		}

		resolved, err := tpls.Get(uint(id), accountID)
		if errors.Is(err, templates.ErrTemplateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "template not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}

		prompt, warnings := templates.Substitute(resolved.Version.Prompt, req.Variables)
		system, sysWarnings := templates.Substitute(resolved.Version.SystemMessage, req.Variables)
		data := gin.H{
			"prompt":   prompt,
			"system":   system,
			"warnings": append(warnings, sysWarnings...),
		}

		if req.Execute {
			var params llm.Params
			if err := store.UnmarshalColumn(resolved.Version.Parameters, &params); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid version parameters"})
				return
			}
			versionID := resolved.Version.ID
			gen, err := gateway.Generate(c.Request.Context(), llm.GenerateInput{
				Category:        resolved.Template.Category,
				Prompt:          prompt,
				System:          system,
				Params:          params,
				AccountID:       accountID,
				PromptVersionID: &versionID,
			})
			if err != nil {
				c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
				return
			}
			data["output"] = gen.Text
			data["stop_reason"] = gen.StopReason
			data["is_truncated"] = gen.IsTruncated
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
	})
}
