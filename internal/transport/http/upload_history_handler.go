package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/service"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

type uploadHistoryLister interface {
	List(ctx context.Context, owner string, statuses []string, limit int) ([]domain.UploadRecord, error)
}

type UploadHistoryHandler struct {
	history uploadHistoryLister
}

func RegisterUploadHistory(e *echo.Echo, verifier *util.JWTManager, history uploadHistoryLister) {
	if history == nil {
		return
	}
	handler := &UploadHistoryHandler{history: history}
	e.GET("/api/v1/bulk-history", handler.list, RequireBearer(verifier))
}

func (h *UploadHistoryHandler) list(c echo.Context) error {
	owner, _ := CurrentOwner(c)

	var statuses []string
	for _, raw := range c.QueryParams()["status"] {
		statuses = append(statuses, strings.Split(raw, ",")...)
	}
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return c.JSON(http.StatusBadRequest, util.Error("limit must be a positive number"))
		}
		limit = v
	}

	records, err := h.history.List(c.Request().Context(), owner, statuses, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidHistoryStatus) {
			return c.JSON(http.StatusBadRequest, util.Error(err.Error()))
		}
		c.Logger().Errorf("list upload history: %v", err)
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
	if records == nil {
		records = []domain.UploadRecord{}
	}
	return c.JSON(http.StatusOK, util.Data("uploads", records))
}
