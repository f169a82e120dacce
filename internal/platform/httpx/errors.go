package httpx

import (
	"log/slog"
	"net/http"

	"github.com/teilehub/teilehub/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Expected domain outcomes (not-found, conflicts, business-rule violations)
// keep their code and message; system errors return a generic message only.
func RespondError(w http.ResponseWriter, err error) {
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		respondDomain(w, http.StatusNotFound, "Not Found", err)
	case shared.KindConflict:
		respondDomain(w, http.StatusUnprocessableEntity, "Validation Failed", err)
	case shared.KindBusinessRule:
		respondDomain(w, http.StatusConflict, "Business Rule Violation", err)
	default:
		JSON(w, http.StatusInternalServerError, ProblemDetail{
			Title:  "Internal Error",
			Status: http.StatusInternalServerError,
			Code:   "internal_error",
		})
	}
}

// LogAndRespond logs the failure and delegates to RespondError. System errors
// are logged with full context; expected domain failures at warning level.
func LogAndRespond(logger *slog.Logger, w http.ResponseWriter, op string, err error) {
	if logger != nil {
		if shared.KindOf(err) == shared.KindSystem {
			logger.Error(op, slog.Any("error", err))
		} else {
			logger.Warn(op, slog.String("code", shared.CodeOf(err)))
		}
	}
	RespondError(w, err)
}

func respondDomain(w http.ResponseWriter, status int, title string, err error) {
	pd := ProblemDetail{Title: title, Status: status, Code: shared.CodeOf(err), Detail: err.Error()}
	if de, ok := err.(*shared.Error); ok {
		pd.Detail = de.Message
		pd.Field = de.Field
	}
	JSON(w, status, pd)
}
