package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/datajoint-company/DJ-NWB-Economo-2018/internal/models"
)

// Tables the API and the pipeline cannot run without.
var requiredTables = []interface{ TableName() string }{
	&models.Session{},
	&models.Trial{},
	&models.UnitSpikeTimes{},
	&models.TrialSegmentationSetting{},
	&models.TrialSegmentedUnitSpikeTimes{},
	&models.UnitPSTH{},
}

type HealthHandler struct {
	DB *gorm.DB
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

// @Summary Health check
// @Tags health
// @Success 200 {object} map[string]string
// @Router /healthz [get]
func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "economo"})
}

// ready checks the connection, then that the schema is migrated and the
// segmentation settings are seeded.
//
// @Summary Readiness check
// @Tags health
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /readyz [get]
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}

	db := h.DB.WithContext(c.Request.Context())
	var missing []string
	for _, m := range requiredTables {
		if !db.Migrator().HasTable(m) {
			missing = append(missing, m.TableName())
		}
	}
	if len(missing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "schema_missing", "tables": missing})
		return
	}

	var sessions, settings int64
	if err := db.Model(&models.Session{}).Count(&sessions).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := db.Model(&models.TrialSegmentationSetting{}).Count(&settings).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "sessions": sessions, "segmentation_settings": settings})
}
