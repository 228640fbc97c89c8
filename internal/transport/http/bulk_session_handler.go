package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/service"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

type BulkSessionHandler struct {
	sessions      *service.BulkSessionManager
	clients       service.ClientFactory
	maxUploadSize int64
}

type bulkSettingsRequest struct {
	ExpireDate             *string `json:"expire_date"`
	DefaultPersonalMessage *string `json:"default_personal_message"`
}

type bulkFilterRequest struct {
	Search      *string `json:"search"`
	Status      *string `json:"status"`
	ShowValid   *bool   `json:"show_valid"`
	ShowInvalid *bool   `json:"show_invalid"`
	TicketType  *string `json:"ticket_type"`
	Page        *int    `json:"page"`
}

type editFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type confirmRequest struct {
	AcknowledgeSkipped bool `json:"acknowledge_skipped"`
}

func RegisterBulkSessions(e *echo.Echo, verifier *util.JWTManager, sessions *service.BulkSessionManager, clients service.ClientFactory, maxUpload int64) {
	if sessions == nil {
		return
	}
	handler := &BulkSessionHandler{
		sessions:      sessions,
		clients:       clients,
		maxUploadSize: maxUpload,
	}

	api := e.Group("/api/v1", RequireBearer(verifier))
	api.GET("/ticket-types", handler.ticketTypes)
	api.GET("/dashboard/revision", handler.revision)

	group := api.Group("/bulk-sessions")
	group.GET("/template", handler.template)
	group.POST("", handler.create)
	group.GET("/:id", handler.get)
	group.DELETE("/:id", handler.close)
	group.POST("/:id/upload", handler.upload)
	group.PUT("/:id/settings", handler.settings)
	group.PUT("/:id/filter", handler.filter)
	group.GET("/:id/summary", handler.summary)
	group.POST("/:id/rows", handler.addRow)
	group.DELETE("/:id/rows", handler.clearRows)
	group.PATCH("/:id/rows/:rowId", handler.editRow)
	group.DELETE("/:id/rows/:rowId", handler.deleteRow)
	group.POST("/:id/confirm", handler.confirm)
}

func (h *BulkSessionHandler) template(c echo.Context) error {
	var names []string
	if h.clients != nil {
		client := h.clients(util.NewBearerToken(currentToken(c)))
		if types, err := client.ListTicketTypes(c.Request().Context()); err == nil {
			for _, t := range types {
				names = append(names, t.Name)
			}
		}
	}
	data, err := service.InviteTemplateCSV(names)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, util.Error("could not generate template"))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+service.InviteTemplateFilename+`"`)
	return c.Blob(http.StatusOK, "text/csv", data)
}

func (h *BulkSessionHandler) ticketTypes(c echo.Context) error {
	if h.clients == nil {
		return c.JSON(http.StatusServiceUnavailable, util.Error("ticket types unavailable"))
	}
	client := h.clients(util.NewBearerToken(currentToken(c)))
	types, err := client.ListTicketTypes(c.Request().Context())
	if err != nil {
		return h.writeError(c, err)
	}
	if types == nil {
		types = []domain.TicketType{}
	}
	return c.JSON(http.StatusOK, util.Data("ticket_types", types))
}

func (h *BulkSessionHandler) revision(c echo.Context) error {
	owner, _ := CurrentOwner(c)
	return c.JSON(http.StatusOK, util.Data("revision", h.sessions.Revision(owner)))
}

func (h *BulkSessionHandler) create(c echo.Context) error {
	owner, _ := CurrentOwner(c)
	session, err := h.sessions.Create(c.Request().Context(), owner, currentToken(c))
	if err != nil {
		if errors.Is(err, util.ErrTokenMissing) || errors.Is(err, util.ErrTokenExpired) {
			return c.JSON(http.StatusUnauthorized, util.Error(err.Error()))
		}
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, sessionBody(session))
}

func (h *BulkSessionHandler) get(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionBody(session))
}

func (h *BulkSessionHandler) close(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid session id"))
	}
	owner, _ := CurrentOwner(c)
	if err := h.sessions.Close(id, owner); err != nil {
		return h.writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *BulkSessionHandler) upload(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error(service.ErrNoFile.Error()))
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("unable to read upload"))
	}
	defer src.Close()

	limit := h.maxUploadSize
	if limit <= 0 {
		limit = 5 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("failed reading upload"))
	}
	if int64(len(data)) > limit {
		return h.writeError(c, service.ErrFileTooLarge)
	}

	job, err := session.Controller.Upload(c.Request().Context(), service.UploadFile{Name: file.Filename, Content: data},
		strings.TrimSpace(c.FormValue("expire_date")),
		c.FormValue("default_personal_message"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, util.Envelope{
		"job":     job,
		"session": session.Controller.Snapshot(),
	})
}

func (h *BulkSessionHandler) settings(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	var req bulkSettingsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid payload"))
	}
	if req.ExpireDate != nil {
		if err := session.Controller.SetExpireDate(strings.TrimSpace(*req.ExpireDate)); err != nil {
			return h.writeError(c, err)
		}
	}
	if req.DefaultPersonalMessage != nil {
		if err := session.Controller.SetDefaultMessage(*req.DefaultPersonalMessage); err != nil {
			return h.writeError(c, err)
		}
	}
	return c.JSON(http.StatusOK, sessionBody(session))
}

// filter applies the changed filter values. Search is debounced, so its
// results show up in a later snapshot; the other filters are fetched before
// the response is written.
func (h *BulkSessionHandler) filter(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	var req bulkFilterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid payload"))
	}

	ctx := c.Request().Context()
	ctrl := session.Controller
	if req.Search != nil {
		if err := ctrl.SetSearch(*req.Search); err != nil {
			return h.writeError(c, err)
		}
	}
	if req.Status != nil {
		status := domain.RowStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		if status != "" && status != domain.RowStatusValid && status != domain.RowStatusInvalid {
			return c.JSON(http.StatusBadRequest, util.Error("status must be valid or invalid"))
		}
		if err := ctrl.SetStatus(ctx, status); err != nil {
			return h.writeError(c, err)
		}
	} else if req.ShowValid != nil || req.ShowInvalid != nil {
		if err := ctrl.SetStatusFlags(ctx, req.ShowValid != nil && *req.ShowValid, req.ShowInvalid != nil && *req.ShowInvalid); err != nil {
			return h.writeError(c, err)
		}
	}
	if req.TicketType != nil {
		if err := ctrl.SetTicketType(ctx, strings.TrimSpace(*req.TicketType)); err != nil {
			return h.writeError(c, err)
		}
	}
	if req.Page != nil {
		if err := ctrl.SetPage(ctx, *req.Page); err != nil {
			return h.writeError(c, err)
		}
	}
	return c.JSON(http.StatusOK, sessionBody(session))
}

func (h *BulkSessionHandler) summary(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Data("summary", session.Controller.ConfirmSummary()))
}

func (h *BulkSessionHandler) editRow(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	rowID, err := strconv.ParseInt(c.Param("rowId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid row id"))
	}
	var req editFieldRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid payload"))
	}
	if err := session.Controller.EditField(rowID, strings.TrimSpace(req.Field), req.Value); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, sessionBody(session))
}

func (h *BulkSessionHandler) deleteRow(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	rowID, err := strconv.ParseInt(c.Param("rowId"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid row id"))
	}
	if err := session.Controller.DeleteRow(c.Request().Context(), rowID); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionBody(session))
}

func (h *BulkSessionHandler) clearRows(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	if err := session.Controller.ClearAll(c.Request().Context()); err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, sessionBody(session))
}

// addRow submits the manual entry form. Field errors come back with the
// typed draft so the form can be redrawn as it was.
func (h *BulkSessionHandler) addRow(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	var draft domain.RowDraft
	if err := c.Bind(&draft); err != nil {
		return c.JSON(http.StatusBadRequest, util.Error("invalid payload"))
	}

	form := session.AddRow
	form.Reset()
	for field, value := range map[string]string{
		domain.FieldGuestName:       draft.GuestName,
		domain.FieldGuestEmail:      draft.GuestEmail,
		domain.FieldTicketType:      draft.TicketType,
		domain.FieldCompany:         draft.Company,
		domain.FieldPersonalMessage: draft.PersonalMessage,
	} {
		if err := form.SetField(field, value); err != nil {
			return h.writeError(c, err)
		}
	}

	row, err := form.Submit(c.Request().Context())
	if err != nil {
		if errors.Is(err, service.ErrDraftInvalid) || domain.IsRowValidation(err) {
			message := domain.UserMessage(err)
			if errors.Is(err, service.ErrDraftInvalid) {
				message = service.ErrDraftInvalid.Error()
			}
			return c.JSON(http.StatusUnprocessableEntity, util.Envelope{
				"error":  message,
				"errors": form.Errors(),
				"draft":  form.Draft(),
			})
		}
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, util.Envelope{
		"row":     row,
		"session": session.Controller.Snapshot(),
	})
}

func (h *BulkSessionHandler) confirm(c echo.Context) error {
	session, err := h.session(c)
	if err != nil {
		return h.writeError(c, err)
	}
	var req confirmRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, util.Error("invalid payload"))
		}
	}
	outcome, err := session.Controller.Confirm(c.Request().Context(), service.ConfirmOptions{AcknowledgeSkipped: req.AcknowledgeSkipped})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, util.Envelope{
		"outcome": outcome,
		"session": session.Controller.Snapshot(),
	})
}

func (h *BulkSessionHandler) session(c echo.Context) (*service.BulkSession, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, service.ErrSessionNotFound
	}
	owner, _ := CurrentOwner(c)
	return h.sessions.Get(id, owner, currentToken(c))
}

func (h *BulkSessionHandler) writeError(c echo.Context, err error) error {
	var (
		confirmReq *service.ConfirmationRequiredError
		quota      *domain.QuotaError
		confirmErr *domain.ConfirmError
		rowErr     *domain.RowValidationError
		uploadErr  *domain.UploadError
		svcErr     *domain.ServiceError
	)
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, util.Error(err.Error()))
	case errors.As(err, &confirmReq):
		return c.JSON(http.StatusConflict, util.Envelope{
			"error":   "confirmation required",
			"code":    "CONFIRMATION_REQUIRED",
			"summary": confirmReq.Summary,
		})
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrSessionClosed), errors.Is(err, service.ErrRowsLoading):
		return c.JSON(http.StatusConflict, util.Error(err.Error()))
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, util.Error(service.ErrFileTooLarge.Error()))
	case service.IsPrecondition(err):
		var pre *service.PreconditionError
		errors.As(err, &pre)
		return c.JSON(http.StatusUnprocessableEntity, util.Error(pre.Err.Error()))
	case errors.As(err, &quota):
		return c.JSON(http.StatusPaymentRequired, util.Fail(domain.CodeInsufficientQuota, quota.Message))
	case errors.As(err, &confirmErr):
		return c.JSON(http.StatusBadGateway, util.Error(confirmErr.Message))
	case errors.As(err, &rowErr):
		return c.JSON(http.StatusUnprocessableEntity, util.Envelope{"error": rowErr.Message, "errors": rowErr.Fields})
	case errors.As(err, &uploadErr):
		return c.JSON(http.StatusUnprocessableEntity, util.Error(uploadErr.Message))
	case errors.As(err, &svcErr):
		c.Logger().Errorf("job service: %v", err)
		return c.JSON(http.StatusBadGateway, util.Error(svcErr.Message))
	default:
		c.Logger().Errorf("bulk session: %v", err)
		return c.JSON(http.StatusInternalServerError, util.Error("internal error"))
	}
}

func sessionBody(session *service.BulkSession) util.Envelope {
	return util.Envelope{
		"id":         session.ID,
		"created_at": session.CreatedAt,
		"session":    session.Controller.Snapshot(),
		"add_row": util.Envelope{
			"draft":  session.AddRow.Draft(),
			"errors": session.AddRow.Errors(),
		},
	}
}
