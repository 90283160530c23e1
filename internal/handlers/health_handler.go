package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/opendraft/billing-backend/internal/database"
	"github.com/opendraft/billing-backend/internal/dto"
	"github.com/opendraft/billing-backend/internal/locker"
	"github.com/opendraft/billing-backend/internal/plans"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	mirror  *gorm.DB
	locker  locker.Locker
	catalog *plans.Catalog
}

func NewHealthHandler(db, mirror *gorm.DB, lk locker.Locker, catalog *plans.Catalog) *HealthHandler {
	return &HealthHandler{db: db, mirror: mirror, locker: lk, catalog: catalog}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(h.db); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	mirrorStatus := "ok"
	if h.mirror == h.db {
		mirrorStatus = "shared"
	} else if err := database.Ping(h.mirror); err != nil {
		mirrorStatus = "unhealthy: " + err.Error()
	}

	redisStatus := "disabled"
	if h.locker.Enabled() {
		redisStatus = "ok"
		if err := h.locker.Ping(c.UserContext()); err != nil {
			redisStatus = "unhealthy: " + err.Error()
		}
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		MirrorDB:  mirrorStatus,
		Redis:     redisStatus,
		PlanCount: h.catalog.Len(),
	})
}
