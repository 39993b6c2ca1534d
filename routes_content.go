package main

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"content-forge/config"
	"content-forge/models"
	"content-forge/storage"
	"content-forge/store"
)

var reviewableStatuses = map[string]bool{
	models.GenStatusReviewPending: true,
	models.GenStatusApproved:      true,
	models.GenStatusPublished:     true,
	models.GenStatusRejected:      true,
}

// setupContentRoutes konfiguriert die Review-Endpunkte über alle
// Content-Tabellen. s3c ist nil, wenn kein Bucket konfiguriert ist;
// der Asset-Endpunkt antwortet dann mit 503.
func setupContentRoutes(router *gin.RouterGroup, st *store.Store, cfg *config.Config, s3c *s3.Client, log *zap.Logger) {
	rg := router.Group("/content")

	// GET - Review-Queue über alle Typen (?status=, Default review_pending)
	rg.GET("/review", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		status := c.DefaultQuery("status", models.GenStatusReviewPending)
		if !reviewableStatuses[status] && status != models.GenStatusDraft {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown status"})
			return
		}

		var (
			articles []models.GeneratedArticle
			posts    []models.SocialPost
			scripts  []models.VideoScript
			points   []models.PrayerPoint
			items    []models.ContentItem
		)
		queries := []error{
			st.Tenant(accountID).Where("status = ?", status).Find(&articles).Error,
			st.Tenant(accountID).Where("status = ?", status).Find(&posts).Error,
			st.Tenant(accountID).Where("status = ?", status).Find(&scripts).Error,
			st.Tenant(accountID).Where("status = ?", status).Find(&points).Error,
			st.Tenant(accountID).Where("status = ?", status).Find(&items).Error,
		}
		for _, err := range queries {
			if err != nil {
				log.Error("Review queue query failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{
			"articles":      articles,
			"social_posts":  posts,
			"video_scripts": scripts,
			"prayer_points": points,
			"content_items": items,
		}})
	})

	// PUT - Status-Übergang. Legacy-Zeile und gespiegelte content_items-
	// Zeile wandern zusammen.
	rg.PUT("/:type/:id/status", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid content id"})
			return
		}
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || !reviewableStatuses[req.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body. 'status' must be one of review_pending, approved, published, rejected."})
			return
		}

		if err := updateContentStatus(st, accountID, c.Param("type"), uint(id), req.Status); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// PUT - Asset (Header-Bild) hochladen und mit dem Artikel verknüpfen.
	rg.PUT("/:type/:id/asset", func(c *gin.Context) {
		accountID, ok := accountIDFrom(c)
		if !ok {
			abortNoAccount(c)
			return
		}
		if c.Param("type") != "articles" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "assets are only supported for articles"})
			return
		}
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid content id"})
			return
		}
		if s3c == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "S3 storage not configured"})
			return
		}
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "multipart field 'file' required"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable upload"})
			return
		}

		var article models.GeneratedArticle
		if err := st.Tenant(accountID).First(&article, uint(id)).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "content not found"})
			return
		}
		url, err := storage.UploadContentAsset(s3c, cfg, accountID, article.ID, header.Filename, data)
		if err != nil {
			log.Error("Asset upload failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": "upload failed"})
			return
		}
		if err := st.DB().Model(&models.GeneratedArticle{}).
			Where("id = ? AND account_id = ?", article.ID, accountID).
			Update("header_image_url", url).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"url": url}})
	})
}

// updateContentStatus routet den Status-Übergang auf die richtige Tabelle
// und spiegelt ihn in content_items (legacy_ids-Containment).
func updateContentStatus(st *store.Store, accountID uint, contentType string, id uint, status string) error {
	updates := map[string]any{"status": status}

	switch contentType {
	case "articles":
		now := time.Now().UTC()
		if status == models.GenStatusApproved {
			updates["approved_at"] = now
		}
		if status == models.GenStatusPublished {
			updates["published_at"] = now
		}
		res := st.DB().Model(&models.GeneratedArticle{}).
			Where("id = ? AND account_id = ?", id, accountID).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("content not found")
		}
		return mirrorContentItemStatus(st, accountID, id, status)

	case "social_posts":
		return updateLegacyAndMirror(st, &models.SocialPost{}, "social_post_%", accountID, id, status)
	case "video_scripts":
		return updateLegacyAndMirror(st, &models.VideoScript{}, "video_script_%", accountID, id, status)
	case "prayer_points":
		return updateLegacyAndMirror(st, &models.PrayerPoint{}, "prayer_points", accountID, id, status)

	case "content_items":
		res := st.DB().Model(&models.ContentItem{}).
			Where("id = ? AND account_id = ?", id, accountID).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("content not found")
		}
		return nil
	}
	return fmt.Errorf("unknown content type %q", contentType)
}

func updateLegacyAndMirror(st *store.Store, model any, categoryPattern string, accountID, id uint, status string) error {
	res := st.DB().Model(model).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("content not found")
	}
	return mirrorLegacyID(st, categoryPattern, accountID, id, status)
}

// mirrorLegacyID aktualisiert die content_items-Zeile, deren Metadata auf
// die Legacy-Zeile zeigt. Kein Treffer ist kein Fehler (Fallback-Writes
// haben keine Modern-Zeile).
func mirrorLegacyID(st *store.Store, categoryPattern string, accountID, legacyID uint, status string) error {
	return st.DB().Model(&models.ContentItem{}).
		Where("account_id = ? AND prompt_category LIKE ? AND metadata -> 'legacy_ids' @> ?",
			accountID, categoryPattern, fmt.Sprintf("[%d]", legacyID)).
		Update("status", status).Error
}

// mirrorContentItemStatus spiegelt den Artikel-Status auf die Langform-
// Zeile in content_items.
func mirrorContentItemStatus(st *store.Store, accountID, genArticleID uint, status string) error {
	return st.DB().Model(&models.ContentItem{}).
		Where("account_id = ? AND based_on_gen_article_id = ? AND prompt_category = ?", accountID, genArticleID, "blog_article").
		Update("status", status).Error
}
