// Package handlers implements the HTTP front end of the report service.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"hivetax/internal/model"
	"hivetax/internal/report"
	"hivetax/internal/utils"

	"github.com/rs/zerolog/log"
)

// ReportBuilder builds the report of one account.
type ReportBuilder interface {
	Build(ctx context.Context, account string) (*model.BuildResult, error)
}

// ReportHandler serves the account form and the CSV download.
type ReportHandler struct {
	builder ReportBuilder
}

// NewReportHandler creates a handler over builder.
func NewReportHandler(builder ReportBuilder) *ReportHandler {
	return &ReportHandler{builder: builder}
}

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Hive-Engine Koinly export</title>
</head>
<body>
<h1>Hive-Engine transactions for Koinly</h1>
<form action="/get_csv" method="get">
<label for="account_name">Hive account</label>
<input id="account_name" name="account_name" type="text" required pattern="[a-z0-9.\-]{3,16}">
<button type="submit">Download CSV</button>
</form>
</body>
</html>
`

// Index renders the account form.
func (h *ReportHandler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexPage))
}

// GetCSV builds the report of the account_name parameter and returns it as a
// CSV attachment.
//
// A missing or malformed account name is a 400 with an empty body. Upstream
// failures that prevent a report are a 502, a build that ran out of time a 504.
func (h *ReportHandler) GetCSV(w http.ResponseWriter, r *http.Request) {
	account := strings.TrimSpace(r.FormValue("account_name"))
	if account == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger := log.With().Str("handler", "get_csv").Str("account", account).Logger()

	result, err := h.builder.Build(r.Context(), account)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrInvalidAccount):
			logger.Debug().Err(err).Msg("rejected account name")
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, context.DeadlineExceeded):
			logger.Error().Err(err).Msg("report build timed out")
			http.Error(w, "report build timed out", http.StatusGatewayTimeout)
		default:
			logger.Error().Err(err).Msg("report build failed")
			http.Error(w, "failed to build report", http.StatusBadGateway)
		}
		return
	}

	var buf bytes.Buffer
	if err := report.WriteCSV(&buf, result.Report); err != nil {
		logger.Error().Err(err).Msg("failed to render csv")
		http.Error(w, "failed to render report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Report-Diagnostics", strconv.Itoa(len(result.Diagnostics)))
	w.WriteHeader(http.StatusOK)

	if _, err := buf.WriteTo(w); err != nil {
		logger.Warn().Err(err).Msg("failed to write response")
		return
	}

	logger.Info().
		Int("rows", len(result.Report)).
		Int("diagnostics", len(result.Diagnostics)).
		Str("filename", result.Filename).
		Msg("report served")
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
