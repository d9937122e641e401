package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-gateway/internal/article"
)

// TimestampLayout renders UTC ISO-8601 timestamps with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Envelope status values.
const (
	StatusOK    = 0
	StatusError = -1
)

// SuccessEnvelope is returned for a served article.
type SuccessEnvelope struct {
	Status         int            `json:"status"`
	Article        article.Record `json:"article"`
	Cached         bool           `json:"cached"`
	ProcessingTime string         `json:"processingTime"`
	Timestamp      string         `json:"timestamp"`
}

// ErrorEnvelope is returned for every failure.
type ErrorEnvelope struct {
	Status    int    `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatProcessingTime renders elapsed as whole milliseconds.
func FormatProcessingTime(elapsed time.Duration) string {
	return fmt.Sprintf("%dms", elapsed.Milliseconds())
}

// NewSuccess builds the success envelope for res.
func NewSuccess(res article.Result, elapsed time.Duration, now time.Time) SuccessEnvelope {
	return SuccessEnvelope{
		Status:         StatusOK,
		Article:        res.Article,
		Cached:         res.Cached,
		ProcessingTime: FormatProcessingTime(elapsed),
		Timestamp:      FormatTimestamp(now),
	}
}

// NewError builds the error envelope for err.
func NewError(err error, production bool, now time.Time) ErrorEnvelope {
	return ErrorEnvelope{
		Status:    StatusError,
		Error:     article.PublicMessage(err, production),
		Timestamp: FormatTimestamp(now),
	}
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	switch article.KindOf(err) {
	case article.KindValidation:
		return http.StatusBadRequest
	case article.KindAuth:
		return http.StatusUnauthorized
	case article.KindMethod:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeFailure(w http.ResponseWriter, err error, production bool, now time.Time) {
	writeJSON(w, StatusCode(err), NewError(err, production, now))
}
