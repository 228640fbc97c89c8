package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	requestBodyLogKey  = "http.request.body.summary"
	responseBodyLogKey = "http.response.body.summary"
	maxLoggedBody      = 2048
)

// credentialKeys are masked wherever a key name contains them.
var credentialKeys = []string{"password", "token", "authorization", "secret"}

// guestKeys carry guest details or text typed about a guest. Notice
// messages and edit values can repeat an email address.
var guestKeys = map[string]bool{
	"guest_name":               true,
	"guest_email":              true,
	"company":                  true,
	"personal_message":         true,
	"default_personal_message": true,
	"message":                  true,
	"search":                   true,
	"value":                    true,
}

func registerLogging(e *echo.Echo, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogError:     true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			owner := "anonymous"
			if o, ok := CurrentOwner(c); ok {
				owner = o
			}

			attrs := []any{
				"owner", owner,
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			}
			if body := c.Get(requestBodyLogKey); body != nil {
				attrs = append(attrs, "request_body", body)
			}
			if body := c.Get(responseBodyLogKey); body != nil {
				attrs = append(attrs, "response_body", body)
			}

			level := slog.LevelInfo
			switch {
			case v.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case v.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error.Error())
			}
			logger.Log(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))

	e.Use(middleware.BodyDump(func(c echo.Context, reqBody, resBody []byte) {
		if summary := summarizeBody(reqBody, c.Request().Header.Get(echo.HeaderContentType)); summary != nil {
			c.Set(requestBodyLogKey, summary)
		}
		if summary := summarizeBody(resBody, c.Response().Header().Get(echo.HeaderContentType)); summary != nil {
			c.Set(responseBodyLogKey, summary)
		}
	}))
}

// summarizeBody returns what the access log may show of a body. Guest and
// credential values are masked and file content is never logged.
func summarizeBody(body []byte, contentType string) any {
	if len(body) == 0 {
		return nil
	}
	mediaType, params, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "multipart/form-data":
		return summarizeForm(body, params["boundary"])
	case mediaType == "text/csv":
		return map[string]any{"csv_bytes": len(body)}
	case mediaType == "application/json" || json.Valid(body):
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			return fitLogged(maskJSON(data))
		}
	}
	if isBinary(body) {
		return "binary"
	}
	return clamp(string(body))
}

func maskJSON(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			if masked(key) {
				out[key] = maskValue(val)
				continue
			}
			out[key] = maskJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskJSON(item)
		}
		return out
	case string:
		if isBinary([]byte(v)) {
			return "binary"
		}
		return clamp(v)
	default:
		return v
	}
}

// maskValue hides a value but keeps whether it was set.
func maskValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return ""
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key := range v {
			out[key] = "***"
		}
		return out
	}
	return "***"
}

func masked(key string) bool {
	lower := strings.ToLower(key)
	if guestKeys[lower] {
		return true
	}
	for _, k := range credentialKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// summarizeForm logs the text fields of a multipart upload. File parts are
// reported by name and size only.
func summarizeForm(body []byte, boundary string) any {
	if boundary == "" {
		return "binary"
	}
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	fields := make(map[string]any)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "binary"
		}
		name := part.FormName()
		data, readErr := io.ReadAll(part)
		_ = part.Close()
		switch {
		case name == "":
		case part.FileName() != "":
			fields[name] = map[string]any{"filename": part.FileName(), "bytes": len(data)}
		case readErr != nil:
			fields[name] = "binary"
		case masked(name):
			fields[name] = maskValue(string(data))
		default:
			fields[name] = clamp(string(data))
		}
	}
	if len(fields) == 0 {
		return "binary"
	}
	return fitLogged(fields)
}

// fitLogged keeps a summary under maxLoggedBody by collapsing lists into
// their length, then giving up on the body altogether.
func fitLogged(value any) any {
	if loggedSize(value) <= maxLoggedBody {
		return value
	}
	value = collapseLists(value)
	if loggedSize(value) <= maxLoggedBody {
		return value
	}
	return map[string]any{"_truncated": true}
}

func collapseLists(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = collapseLists(val)
		}
		return out
	case []any:
		return map[string]any{"_items": len(v)}
	default:
		return v
	}
}

func loggedSize(value any) int {
	buf, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(buf)
}

func isBinary(data []byte) bool {
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			return true
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return true
		}
		data = data[size:]
	}
	return false
}

func clamp(value string) string {
	if len(value) <= maxLoggedBody {
		return value
	}
	cut := value[:maxLoggedBody]
	for !utf8.ValidString(cut) && len(cut) > 0 {
		cut = cut[:len(cut)-1]
	}
	return cut + "...(truncated)"
}
