package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/i18n"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/service"
	"github.com/gin-gonic/gin"
)

const (
	typeFieldValidation = "fieldValidationError"
	typeGlobal          = "globalError"
	typeServer          = "serverError"

	codeTooManyRequests = "TooManyRequests"
	codeInvalidBody     = "InvalidBody"
)

// errorResponse is one entry of the error list every failed request
// returns. For non field errors FieldName repeats Type.
type errorResponse struct {
	Type      string   `json:"type"`
	ErrorCode string   `json:"errorCode"`
	ErrorArgs []string `json:"errorArgs"`
	FieldName string   `json:"fieldName"`
	Message   string   `json:"message"`
}

type kindMapping struct {
	status int
	field  string
}

var kinds = map[service.Kind]kindMapping{
	service.KindInvalidCredentialsBody: {status: http.StatusUnauthorized},
	service.KindNotFound:               {status: http.StatusUnauthorized, field: "identity"},
	service.KindBadCredentials:         {status: http.StatusUnauthorized, field: "password"},
	service.KindDisabled:               {status: http.StatusUnauthorized},
	service.KindLocked:                 {status: http.StatusUnauthorized},
	service.KindExpired:                {status: http.StatusUnauthorized},
	service.KindTokenExpired:           {status: http.StatusUnauthorized},
	service.KindTokenInvalid:           {status: http.StatusUnauthorized},
	service.KindCsrfInvalid:            {status: http.StatusForbidden},
	service.KindAccessDenied:           {status: http.StatusForbidden},
	service.KindWeakPassword:           {status: http.StatusBadRequest, field: "newPassword"},
	service.KindUserExists:             {status: http.StatusConflict},
}

func newErrorResponse(c *gin.Context, statusCode int, code, field string) {
	errType := typeFieldValidation
	if field == "" {
		errType = typeGlobal
		field = typeGlobal
	}
	if statusCode >= http.StatusInternalServerError {
		errType = typeServer
		field = typeServer
	}

	c.AbortWithStatusJSON(statusCode, []errorResponse{{
		Type:      errType,
		ErrorCode: code,
		ErrorArgs: []string{},
		FieldName: field,
		Message:   i18n.Message(c.GetHeader("Accept-Language"), "error."+code),
	}})
}

// writeError answers with the typed error carried by err. Errors without a
// kind are logged and hidden behind a generic 500.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	var se *service.Error
	if errors.As(err, &se) {
		if m, ok := kinds[se.Kind]; ok {
			newErrorResponse(c, m.status, string(se.Kind), m.field)
			return
		}
	}

	h.log.Error("request failed",
		slog.String("op", op),
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.Any("error", err),
	)
	newErrorResponse(c, http.StatusInternalServerError, typeServer, "")
}

func (h *Handler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(ttl/time.Second), "/", h.cfg.CookieDomain, !h.cfg.InsecureCookies, true)
}

func (h *Handler) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", h.cfg.CookieDomain, !h.cfg.InsecureCookies, true)
}
