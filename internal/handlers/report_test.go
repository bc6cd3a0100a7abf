package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"hivetax/internal/model"
	"hivetax/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReportBuilder struct {
	mock.Mock
}

func (m *MockReportBuilder) Build(ctx context.Context, account string) (*model.BuildResult, error) {
	args := m.Called(ctx, account)
	result, _ := args.Get(0).(*model.BuildResult)
	return result, args.Error(1)
}

func sampleResult() *model.BuildResult {
	date := time.Date(2021, 5, 4, 10, 0, 0, 0, time.UTC)
	return &model.BuildResult{
		Account: "alice",
		Report: model.Report{
			{
				Date:             date,
				Sent:             &model.Leg{Amount: decimal.RequireFromString("1"), Currency: "HIVE"},
				Received:         &model.Leg{Amount: decimal.RequireFromString("10"), Currency: "BEE"},
				Description:      model.OperationMarketBuy,
				NetWorth:         decimal.NewNullDecimal(decimal.RequireFromString("0.5")),
				NetWorthCurrency: model.ReferenceCurrency,
				TxHash:           "t1",
			},
		},
		Diagnostics: []model.Diagnostic{{Kind: model.DiagnosticUnclassified, TxHash: "t3"}},
		Filename:    "Hive-Engine_txs_alice_20210504_100000.csv",
		GeneratedAt: date,
	}
}

func newTestRouter(builder ReportBuilder) http.Handler {
	return NewRouter(NewReportHandler(builder), RouterConfig{
		RequestTimeout: time.Second,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	})
}

func TestGetCSV(t *testing.T) {
	builder := new(MockReportBuilder)
	builder.On("Build", mock.Anything, "alice").Return(sampleResult(), nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get_csv?account_name=alice", nil)

	newTestRouter(builder).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="Hive-Engine_txs_alice_20210504_100000.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "1", rec.Header().Get("X-Report-Diagnostics"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Sent Amount,Sent Currency,Received Amount,Received Currency,Description,Net Worth Amount,Net Worth Currency,TxHash", lines[0])
	assert.Equal(t, "2021-05-04 10:00:00,1,HIVE,10,BEE,market_buy,0.5,USD,t1", lines[1])
	builder.AssertExpectations(t)
}

func TestGetCSV_PostForm(t *testing.T) {
	builder := new(MockReportBuilder)
	builder.On("Build", mock.Anything, "alice").Return(sampleResult(), nil)

	rec := httptest.NewRecorder()
	form := url.Values{"account_name": {" alice "}}
	req := httptest.NewRequest(http.MethodPost, "/get_csv", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	newTestRouter(builder).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	builder.AssertExpectations(t)
}

func TestGetCSV_Errors(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		buildErr     error
		expectStatus int
		expectEmpty  bool
	}{
		{name: "missing account", query: "", expectStatus: http.StatusBadRequest, expectEmpty: true},
		{name: "blank account", query: "?account_name=%20", expectStatus: http.StatusBadRequest, expectEmpty: true},
		{
			name:         "invalid account",
			query:        "?account_name=BadName",
			buildErr:     fmt.Errorf("%w: uppercase", utils.ErrInvalidAccount),
			expectStatus: http.StatusBadRequest,
			expectEmpty:  true,
		},
		{
			name:         "upstream failure",
			query:        "?account_name=alice",
			buildErr:     errors.New("failed to fetch account tokens: 503"),
			expectStatus: http.StatusBadGateway,
		},
		{
			name:         "deadline",
			query:        "?account_name=alice",
			buildErr:     fmt.Errorf("failed to fetch token history: %w", context.DeadlineExceeded),
			expectStatus: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builder := new(MockReportBuilder)
			builder.On("Build", mock.Anything, mock.Anything).Return(nil, tt.buildErr)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/get_csv"+tt.query, nil)

			NewReportHandler(builder).GetCSV(rec, req)

			assert.Equal(t, tt.expectStatus, rec.Code)
			if tt.expectEmpty {
				assert.Empty(t, rec.Body.String())
			}
			assert.Empty(t, rec.Header().Get("Content-Disposition"))
		})
	}
}

func TestGetCSV_MissingAccountSkipsBuild(t *testing.T) {
	builder := new(MockReportBuilder)

	rec := httptest.NewRecorder()
	newTestRouter(builder).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_csv", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	builder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything)
}

func TestRouter_StaticRoutes(t *testing.T) {
	router := newTestRouter(new(MockReportBuilder))

	tests := []struct {
		path         string
		expectStatus int
		expectBody   string
	}{
		{path: "/", expectStatus: http.StatusOK, expectBody: `name="account_name"`},
		{path: "/health", expectStatus: http.StatusOK, expectBody: "ok"},
		{path: "/metrics", expectStatus: http.StatusOK, expectBody: "# metrics"},
		{path: "/missing", expectStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectBody)
		})
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	builder := new(MockReportBuilder)
	builder.On("Build", mock.Anything, "alice").Panic("boom")

	rec := httptest.NewRecorder()
	newTestRouter(builder).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_csv?account_name=alice", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// headerCountingRecorder counts status writes on top of a ResponseRecorder.
type headerCountingRecorder struct {
	*httptest.ResponseRecorder
	writes int
}

func (r *headerCountingRecorder) WriteHeader(code int) {
	r.writes++
	r.ResponseRecorder.WriteHeader(code)
}

func TestDeadline_StatusWrittenOnce(t *testing.T) {
	builder := new(MockReportBuilder)
	builder.On("Build", mock.Anything, "alice").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		<-ctx.Done()
	}).Return(nil, fmt.Errorf("failed to fetch token history: %w", context.DeadlineExceeded))

	handler := Deadline(20 * time.Millisecond)(http.HandlerFunc(NewReportHandler(builder).GetCSV))
	rec := &headerCountingRecorder{ResponseRecorder: httptest.NewRecorder()}

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_csv?account_name=alice", nil))

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, 1, rec.writes)
	assert.Equal(t, "report build timed out\n", rec.Body.String())
}
