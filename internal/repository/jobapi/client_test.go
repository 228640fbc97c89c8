package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

func newTestClient(t *testing.T, register func(e *echo.Echo)) *Client {
	t.Helper()
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "Bearer test-token" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "bad token"})
			}
			if c.Request().Header.Get(headerRequestID) == "" {
				return c.JSON(http.StatusBadRequest, echo.Map{"message": "missing request id"})
			}
			return next(c)
		}
	})
	register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api/invitations/"}, util.NewBearerToken("test-token"))
}

func TestUploadSendsMultipartAndReturnsJobID(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.POST("/api/invitations/bulk/upload/", func(c echo.Context) error {
			file, err := c.FormFile("file")
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "message": "file missing"})
			}
			src, _ := file.Open()
			defer src.Close()
			content, _ := io.ReadAll(src)
			if string(content) != "Full Name,Email\n" || file.Filename != "guests.csv" {
				return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "message": "unexpected file"})
			}
			if c.FormValue("expire_date") != "2030-01-31" || c.FormValue("default_personal_message") != "Welcome" {
				return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "message": "unexpected fields"})
			}
			return c.JSON(http.StatusOK, echo.Map{"status": "success", "data": echo.Map{"job_id": 981}})
		})
	})

	jobID, err := client.Upload(context.Background(), ports.UploadRequest{
		Filename:               "guests.csv",
		Content:                []byte("Full Name,Email\n"),
		ExpireDate:             "2030-01-31",
		DefaultPersonalMessage: "Welcome",
	})
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if jobID != "981" {
		t.Fatalf("expected numeric job id to be stringified, got %q", jobID)
	}
}

func TestUploadSurfacesServerMessageVerbatim(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.POST("/api/invitations/bulk/upload/", func(c echo.Context) error {
			return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "message": "Missing column: Email"})
		})
	})

	_, err := client.Upload(context.Background(), ports.UploadRequest{Filename: "g.csv", Content: []byte("x")})
	var uploadErr *domain.UploadError
	if !errors.As(err, &uploadErr) {
		t.Fatalf("expected UploadError, got %v", err)
	}
	if uploadErr.Message != "Missing column: Email" {
		t.Fatalf("expected verbatim server message, got %q", uploadErr.Message)
	}
}

func TestUploadFallsBackOnNonJSONBody(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.POST("/api/invitations/bulk/upload/", func(c echo.Context) error {
			return c.HTML(http.StatusBadGateway, "<html>bad gateway</html>")
		})
	})

	_, err := client.Upload(context.Background(), ports.UploadRequest{Filename: "g.csv", Content: []byte("x")})
	if got := domain.UserMessage(err); got != domain.FallbackUploadMessage {
		t.Fatalf("expected fallback message, got %q", got)
	}
}

func TestFetchRowsOmitsUnsetFilters(t *testing.T) {
	var gotQuery map[string][]string
	client := newTestClient(t, func(e *echo.Echo) {
		e.GET("/api/invitations/bulk/:job/rows/", func(c echo.Context) error {
			gotQuery = c.QueryParams()
			return c.JSON(http.StatusOK, echo.Map{
				"status": "success",
				"data": []echo.Map{
					{"id": 1, "row_number": 1, "guest_name": "Ann", "guest_email": "ann@example.com", "status": "valid"},
				},
				"stats":      echo.Map{"total_count": 1, "valid_count": 1, "invalid_count": 0},
				"pagination": echo.Map{"current_page": 2, "per_page": 50, "total_pages": 3},
				"job_status": "done",
			})
		})
	})

	page, err := client.FetchRows(context.Background(), "job-1", domain.RowFilter{Page: 2, TicketType: "VIP"})
	if err != nil {
		t.Fatalf("FetchRows returned error: %v", err)
	}
	if _, ok := gotQuery["search"]; ok {
		t.Fatalf("search must be omitted when unset, got %v", gotQuery)
	}
	if _, ok := gotQuery["status"]; ok {
		t.Fatalf("status must be omitted when unset, got %v", gotQuery)
	}
	if gotQuery["page"][0] != "2" || gotQuery["ticket_type"][0] != "VIP" {
		t.Fatalf("unexpected query %v", gotQuery)
	}
	if page.JobStatus != domain.JobStatusDone || len(page.Rows) != 1 || page.Rows[0].GuestName != "Ann" {
		t.Fatalf("unexpected page %#v", page)
	}
	if page.Pagination.TotalPages != 3 || page.Stats.TotalCount != 1 {
		t.Fatalf("unexpected pagination/stats %#v", page)
	}
}

func TestFilterParamsAlwaysIncludesPage(t *testing.T) {
	params := FilterParams(domain.RowFilter{Search: "   "})
	if params.Get("page") != "1" {
		t.Fatalf("expected page=1, got %q", params.Get("page"))
	}
	if params.Has("search") {
		t.Fatalf("blank search must be omitted")
	}
	params = FilterParams(domain.RowFilter{Search: " ann ", Status: domain.RowStatusInvalid, Page: 4})
	if params.Get("search") != "ann" || params.Get("status") != "invalid" || params.Get("page") != "4" {
		t.Fatalf("unexpected params %v", params)
	}
}

func TestPatchRowSendsSingleFieldAndDecodesRow(t *testing.T) {
	var body map[string]string
	client := newTestClient(t, func(e *echo.Echo) {
		e.PATCH("/api/invitations/bulk/:job/row/:row/", func(c echo.Context) error {
			if c.Param("job") != "job-1" || c.Param("row") != "7" {
				return c.JSON(http.StatusNotFound, echo.Map{"message": "not found"})
			}
			if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
				return err
			}
			return c.JSON(http.StatusOK, echo.Map{
				"status": "success",
				"data":   echo.Map{"id": 7, "guest_name": "Bea", "status": "valid"},
				"stats":  echo.Map{"total_count": 2, "valid_count": 2, "invalid_count": 0},
			})
		})
	})

	row, stats, err := client.PatchRow(context.Background(), "job-1", 7, domain.FieldPatch{Field: "guest_name", Value: "Bea"})
	if err != nil {
		t.Fatalf("PatchRow returned error: %v", err)
	}
	if len(body) != 1 || body["guest_name"] != "Bea" {
		t.Fatalf("expected single-field body, got %v", body)
	}
	if row.ID != 7 || row.GuestName != "Bea" || stats.ValidCount != 2 {
		t.Fatalf("unexpected result %#v %#v", row, stats)
	}
}

func TestPatchRowValidationErrorCarriesFieldMap(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.PATCH("/api/invitations/bulk/:job/row/:row/", func(c echo.Context) error {
			return c.JSON(http.StatusBadRequest, echo.Map{
				"message": "Row invalid",
				"errors": echo.Map{
					"guest_email":          []string{"Enter a valid email address."},
					"file_level_duplicate": "Email appears twice in this file",
				},
			})
		})
	})

	_, _, err := client.PatchRow(context.Background(), "job-1", 3, domain.FieldPatch{Field: "guest_email", Value: "nope"})
	var rowErr *domain.RowValidationError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected RowValidationError, got %v", err)
	}
	if rowErr.Fields["guest_email"] != "Enter a valid email address." {
		t.Fatalf("expected list error flattened, got %v", rowErr.Fields)
	}
	if rowErr.Fields["file_level_duplicate"] == "" {
		t.Fatalf("expected synthetic duplicate key, got %v", rowErr.Fields)
	}
}

func TestPatchRowServerErrorIsServiceError(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.PATCH("/api/invitations/bulk/:job/row/:row/", func(c echo.Context) error {
			return c.String(http.StatusInternalServerError, "boom")
		})
	})

	_, _, err := client.PatchRow(context.Background(), "job-1", 3, domain.FieldPatch{Field: "company", Value: "X"})
	var svcErr *domain.ServiceError
	if !errors.As(err, &svcErr) || svcErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected ServiceError with status 500, got %v", err)
	}
}

func TestDeleteAndClearReturnStats(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.DELETE("/api/invitations/bulk/:job/delete/row/:row/", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{
				"status":  "success",
				"message": "Row deleted",
				"stats":   echo.Map{"total_count": 1, "valid_count": 1, "invalid_count": 0},
			})
		})
		e.DELETE("/api/invitations/bulk/:job/rows/clear/", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{"status": "success", "message": "All preview data cleared."})
		})
	})

	stats, err := client.DeleteRow(context.Background(), "job-1", 2)
	if err != nil || stats.TotalCount != 1 {
		t.Fatalf("unexpected delete result %#v %v", stats, err)
	}
	stats, err = client.ClearAll(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("ClearAll returned error: %v", err)
	}
	if stats != (domain.JobStats{}) {
		t.Fatalf("expected zero stats after clear, got %#v", stats)
	}
}

func TestAddRowStatusErrorIsRowValidation(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.POST("/api/invitations/bulk/:job/rows/add/", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{
				"status":  "error",
				"message": "Duplicate email",
				"errors":  echo.Map{"file_level_duplicate": "Email already in this upload"},
			})
		})
	})

	_, _, err := client.AddRow(context.Background(), "job-1", domain.RowDraft{GuestName: "A", GuestEmail: "a@example.com", TicketType: "1"})
	if !domain.IsRowValidation(err) {
		t.Fatalf("expected row validation error, got %v", err)
	}
}

func TestConfirmOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    echo.Map
		want    domain.ConfirmOutcomeKind
		message string
	}{
		{"sent", http.StatusOK, echo.Map{"status": "success"}, domain.ConfirmSent, ""},
		{"quota in 4xx", http.StatusForbidden, echo.Map{"code": "INSUFFICIENT_QUOTA", "message": "Only 3 invitations left"}, domain.ConfirmQuotaExceeded, "Only 3 invitations left"},
		{"quota in 2xx", http.StatusOK, echo.Map{"status": "error", "code": "INSUFFICIENT_QUOTA"}, domain.ConfirmQuotaExceeded, domain.FallbackQuotaMessage},
		{"generic", http.StatusBadRequest, echo.Map{"status": "error", "message": "Job already confirmed"}, domain.ConfirmFailed, "Job already confirmed"},
		{"unknown shape", http.StatusInternalServerError, nil, domain.ConfirmFailed, domain.FallbackConfirmMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]string
			client := newTestClient(t, func(e *echo.Echo) {
				e.POST("/api/invitations/bulk/:job/confirm/", func(c echo.Context) error {
					_ = json.NewDecoder(c.Request().Body).Decode(&got)
					if tt.body == nil {
						return c.String(tt.status, "oops")
					}
					return c.JSON(tt.status, tt.body)
				})
			})

			outcome, err := client.Confirm(context.Background(), "job-1", "2030-01-31", "Hi")
			if err != nil {
				t.Fatalf("Confirm returned error: %v", err)
			}
			if outcome.Kind != tt.want || outcome.Message != tt.message {
				t.Fatalf("expected %s/%q, got %#v", tt.want, tt.message, outcome)
			}
			if got["expire_date"] != "2030-01-31" || got["default_personal_message"] != "Hi" {
				t.Fatalf("unexpected confirm body %v", got)
			}
		})
	}
}

func TestListTicketTypesAcceptsNumericIDs(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.GET("/api/invitations/tickets/", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{"status": "success", "data": []echo.Map{
				{"id": 1, "name": "Visitor"},
				{"id": "vip", "name": "VIP"},
			}})
		})
	})

	types, err := client.ListTicketTypes(context.Background())
	if err != nil {
		t.Fatalf("ListTicketTypes returned error: %v", err)
	}
	if len(types) != 2 || types[0].ID != "1" || types[1].ID != "vip" {
		t.Fatalf("unexpected ticket types %#v", types)
	}
}

func TestExpiredTokenFailsBeforeRequest(t *testing.T) {
	var hits int
	client := newTestClient(t, func(e *echo.Echo) {
		e.GET("/api/invitations/tickets/", func(c echo.Context) error {
			hits++
			return c.JSON(http.StatusOK, echo.Map{"status": "success", "data": []echo.Map{}})
		})
	})
	raw, _, err := util.NewJWTManager("s", -time.Minute).Generate("staff-1", "")
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	_, err = client.WithToken(util.NewBearerToken(raw)).ListTicketTypes(context.Background())
	if !errors.Is(err, util.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected no request, got %d", hits)
	}
}

func TestCancelledContextIsReported(t *testing.T) {
	client := newTestClient(t, func(e *echo.Echo) {
		e.GET("/api/invitations/bulk/:job/rows/", func(c echo.Context) error {
			return c.JSON(http.StatusOK, echo.Map{"status": "success"})
		})
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchRows(ctx, "job-1", domain.RowFilter{Page: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
