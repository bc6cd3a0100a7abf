package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hivetax/internal/metrics"
	"hivetax/internal/model"
	"hivetax/internal/report"
	"hivetax/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUpstream implements every source interface of the service.
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) AccountTokens(ctx context.Context, account string) ([]string, error) {
	args := m.Called(ctx, account)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

func (m *MockUpstream) TokenHistory(ctx context.Context, account, token string) ([]model.RawEvent, error) {
	args := m.Called(ctx, account, token)
	events, _ := args.Get(0).([]model.RawEvent)
	return events, args.Error(1)
}

func (m *MockUpstream) TokenPriceHistory(ctx context.Context, token string) ([]model.PriceObservation, error) {
	args := m.Called(ctx, token)
	obs, _ := args.Get(0).([]model.PriceObservation)
	return obs, args.Error(1)
}

func (m *MockUpstream) BasePriceHistory(ctx context.Context) ([]model.PriceObservation, error) {
	args := m.Called(ctx)
	obs, _ := args.Get(0).([]model.PriceObservation)
	return obs, args.Error(1)
}

const alice = "alice"

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func obs(sec int64, price string) model.PriceObservation {
	return model.PriceObservation{Timestamp: time.Unix(sec, 0), Price: decimal.RequireFromString(price)}
}

func transfer(tx, symbol, from, to, qty string, sec int64) model.RawEvent {
	return model.RawEvent{
		Timestamp:     time.Unix(sec, 0),
		Operation:     "tokens_transfer",
		Symbol:        symbol,
		Account:       alice,
		From:          from,
		To:            to,
		Quantity:      dec(qty),
		TransactionID: tx,
	}
}

func marketBuy(tx, symbol, hive, tokens string, sec int64) model.RawEvent {
	return model.RawEvent{
		Timestamp:      time.Unix(sec, 0),
		Operation:      model.OperationMarketBuy,
		Symbol:         symbol,
		Account:        alice,
		QuantityHive:   dec(hive),
		QuantityTokens: dec(tokens),
		TransactionID:  tx,
	}
}

// setupAliceUpstream wires a BEE trade, a BEE deposit, a foreign BEE transfer
// and a SWAP.HIVE withdrawal.
func setupAliceUpstream() *MockUpstream {
	up := new(MockUpstream)
	up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE", "SWAP.HIVE"}, nil)
	up.On("TokenHistory", mock.Anything, alice, "BEE").Return([]model.RawEvent{
		marketBuy("t1", "BEE", "1", "10", 1600000000),
		transfer("t2", "BEE", "bob", alice, "5", 1600086400),
		transfer("t3", "BEE", "bob", "carol", "7", 1600087000),
	}, nil)
	up.On("TokenHistory", mock.Anything, alice, "SWAP.HIVE").Return([]model.RawEvent{
		transfer("t4", "SWAP.HIVE", alice, "bob", "2", 1600100000),
	}, nil)
	up.On("BasePriceHistory", mock.Anything).Return([]model.PriceObservation{
		obs(1600090000, "0.4"),
		obs(1600000000, "0.5"),
	}, nil)
	up.On("TokenPriceHistory", mock.Anything, "BEE").Return([]model.PriceObservation{
		obs(1599900000, "0.05"),
	}, nil)
	return up
}

func newTestService(up *MockUpstream, concurrency int, rec *metrics.Recorder) *ReportService {
	rs := NewReportService(ServiceConfig{
		Concurrency: concurrency,
		Location:    time.UTC,
	}, up, up, up, up, rec)
	rs.now = func() time.Time { return fixedNow }
	return rs
}

func TestReportService_Build(t *testing.T) {
	up := setupAliceUpstream()
	rs := newTestService(up, 1, nil)

	result, err := rs.Build(context.Background(), alice)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, alice, result.Account)
	assert.Equal(t, "Hive-Engine_txs_alice_20240301_093000.csv", result.Filename)
	assert.Equal(t, fixedNow, result.GeneratedAt)

	require.Len(t, result.Report, 3)

	trade := result.Report[0]
	assert.Equal(t, "t1", trade.TxHash)
	assert.Equal(t, time.Unix(1600000000, 0).In(time.UTC), trade.Date)
	require.NotNil(t, trade.Sent)
	require.NotNil(t, trade.Received)
	assert.Equal(t, "HIVE", trade.Sent.Currency)
	assert.Equal(t, "BEE", trade.Received.Currency)
	assert.Equal(t, "0.5", trade.NetWorth.Decimal.String(), "base asset leg valued last wins")
	assert.Equal(t, model.ReferenceCurrency, trade.NetWorthCurrency)

	deposit := result.Report[1]
	assert.Equal(t, "t2", deposit.TxHash)
	assert.Nil(t, deposit.Sent)
	assert.Equal(t, "0.1", deposit.NetWorth.Decimal.String())

	withdrawal := result.Report[2]
	assert.Equal(t, "t4", withdrawal.TxHash)
	assert.Equal(t, "HIVE", withdrawal.Sent.Currency)
	assert.Equal(t, "0.8", withdrawal.NetWorth.Decimal.String(), "last base observation used past the end")

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, model.DiagnosticUnclassified, result.Diagnostics[0].Kind)
	assert.Equal(t, "t3", result.Diagnostics[0].TxHash)

	up.AssertNotCalled(t, "TokenPriceHistory", mock.Anything, "SWAP.HIVE")
	up.AssertExpectations(t)
}

func TestReportService_Build_CSV(t *testing.T) {
	rs := newTestService(setupAliceUpstream(), 2, nil)

	result, err := rs.Build(context.Background(), alice)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, report.WriteCSV(&buf, result.Report))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Date,Sent Amount,Sent Currency,Received Amount,Received Currency,Description,Net Worth Amount,Net Worth Currency,TxHash", lines[0])
	assert.Equal(t, "2020-09-13 12:26:40,1,HIVE,10,BEE,market_buy,0.5,USD,t1", lines[1])
	assert.Equal(t, "2020-09-14 12:26:40,,,5,BEE,tokens_transfer,0.1,USD,t2", lines[2])
	assert.Equal(t, "2020-09-14 16:13:20,2,HIVE,,,tokens_transfer,0.8,USD,t4", lines[3])
}

func TestReportService_Build_Idempotent(t *testing.T) {
	rs := newTestService(setupAliceUpstream(), 4, nil)

	first, err := rs.Build(context.Background(), alice)
	require.NoError(t, err)
	second, err := rs.Build(context.Background(), alice)
	require.NoError(t, err)

	var a, b bytes.Buffer
	require.NoError(t, report.WriteCSV(&a, first.Report))
	require.NoError(t, report.WriteCSV(&b, second.Report))
	assert.Equal(t, a.String(), b.String())
}

func TestReportService_Build_PreservesTokenOrderUnderConcurrency(t *testing.T) {
	tokens := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	up := new(MockUpstream)
	up.On("AccountTokens", mock.Anything, alice).Return(tokens, nil)
	for i, token := range tokens {
		// later tokens answer first
		delay := time.Duration(len(tokens)-i) * 5 * time.Millisecond
		up.On("TokenHistory", mock.Anything, alice, token).
			After(delay).
			Return([]model.RawEvent{transfer("tx-"+token, token, "bob", alice, "1", 1600000000)}, nil)
		up.On("TokenPriceHistory", mock.Anything, token).Return(nil, nil)
	}
	up.On("BasePriceHistory", mock.Anything).Return([]model.PriceObservation{obs(1600000000, "0.5")}, nil)

	result, err := newTestService(up, len(tokens), nil).Build(context.Background(), alice)

	require.NoError(t, err)
	require.Len(t, result.Report, len(tokens))
	for i, token := range tokens {
		assert.Equal(t, "tx-"+token, result.Report[i].TxHash)
	}
}

func TestReportService_Build_FatalErrors(t *testing.T) {
	upstreamErr := errors.New("upstream unavailable")

	tests := []struct {
		name        string
		setup       func(up *MockUpstream)
		expectError error
	}{
		{
			name: "token set",
			setup: func(up *MockUpstream) {
				up.On("AccountTokens", mock.Anything, alice).Return(nil, upstreamErr)
			},
			expectError: ErrTokenSet,
		},
		{
			name: "token history",
			setup: func(up *MockUpstream) {
				up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
				up.On("TokenHistory", mock.Anything, alice, "BEE").Return(nil, upstreamErr)
			},
			expectError: ErrTokenHistory,
		},
		{
			name: "base prices",
			setup: func(up *MockUpstream) {
				up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
				up.On("TokenHistory", mock.Anything, alice, "BEE").Return(nil, nil)
				up.On("BasePriceHistory", mock.Anything).Return(nil, upstreamErr)
			},
			expectError: ErrBasePrices,
		},
		{
			name: "empty base prices",
			setup: func(up *MockUpstream) {
				up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
				up.On("TokenHistory", mock.Anything, alice, "BEE").Return(nil, nil)
				up.On("BasePriceHistory", mock.Anything).Return([]model.PriceObservation{}, nil)
			},
			expectError: ErrBasePrices,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := new(MockUpstream)
			tt.setup(up)
			reg := prometheus.NewRegistry()
			rec := metrics.NewRecorder(reg)

			result, err := newTestService(up, 2, rec).Build(context.Background(), alice)

			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.expectError)
			assert.Equal(t, 1.0, testutil.ToFloat64(rec.ReportsBuilt.WithLabelValues(metrics.StatusFailed)))
			up.AssertNotCalled(t, "TokenPriceHistory", mock.Anything, mock.Anything)
		})
	}
}

func TestReportService_Build_TokenPriceFailureTolerated(t *testing.T) {
	up := new(MockUpstream)
	up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
	up.On("TokenHistory", mock.Anything, alice, "BEE").Return([]model.RawEvent{
		transfer("t1", "BEE", "bob", alice, "5", 1600000000),
	}, nil)
	up.On("TokenPriceHistory", mock.Anything, "BEE").Return(nil, errors.New("market not found"))
	up.On("BasePriceHistory", mock.Anything).Return([]model.PriceObservation{obs(1600000000, "0.5")}, nil)

	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	result, err := newTestService(up, 1, rec).Build(context.Background(), alice)

	require.NoError(t, err)
	require.Len(t, result.Report, 1)
	assert.False(t, result.Report[0].NetWorth.Valid)
	assert.Equal(t, model.ReferenceCurrency, result.Report[0].NetWorthCurrency)

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, model.DiagnosticUnvalued, result.Diagnostics[0].Kind)
	assert.Equal(t, "t1", result.Diagnostics[0].TxHash)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.ReportsBuilt.WithLabelValues(metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.LegsUnvalued))
}

func TestReportService_Build_InvalidAccount(t *testing.T) {
	up := new(MockUpstream)

	result, err := newTestService(up, 1, nil).Build(context.Background(), "Not An Account")

	assert.Nil(t, result)
	assert.ErrorIs(t, err, utils.ErrInvalidAccount)
	up.AssertNotCalled(t, "AccountTokens", mock.Anything, mock.Anything)
}

func TestReportService_Build_Cancelled(t *testing.T) {
	up := new(MockUpstream)
	up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
	up.On("TokenHistory", mock.Anything, alice, "BEE").Return(nil, nil)
	up.On("BasePriceHistory", mock.Anything).Return([]model.PriceObservation{obs(1600000000, "0.5")}, nil)
	up.On("TokenPriceHistory", mock.Anything, "BEE").Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newTestService(up, 1, nil).Build(ctx, alice)

	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
}

// countingUpstream counts concurrent history fetches.
type countingUpstream struct {
	*MockUpstream
	mu       sync.Mutex
	inFlight int
	peak     atomic.Int32
}

func (c *countingUpstream) TokenHistory(ctx context.Context, account, token string) ([]model.RawEvent, error) {
	c.mu.Lock()
	c.inFlight++
	if int32(c.inFlight) > c.peak.Load() {
		c.peak.Store(int32(c.inFlight))
	}
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return nil, nil
}

func TestNormalizer_RespectsConcurrencyLimit(t *testing.T) {
	tokens := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}
	up := &countingUpstream{MockUpstream: new(MockUpstream)}
	up.On("AccountTokens", mock.Anything, alice).Return(tokens, nil)

	n := NewNormalizer(NormalizerConfig{Concurrency: 2}, up, up, nil)

	got, events, err := n.Normalize(context.Background(), alice)

	require.NoError(t, err)
	assert.Equal(t, tokens, got)
	assert.Empty(t, events)
	assert.LessOrEqual(t, up.peak.Load(), int32(2))
}

func TestNormalizer_DerivesLocalDate(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	up := new(MockUpstream)
	up.On("AccountTokens", mock.Anything, alice).Return([]string{"BEE"}, nil)
	up.On("TokenHistory", mock.Anything, alice, "BEE").Return([]model.RawEvent{
		transfer("t1", "BEE", "bob", alice, "1", 1600000000),
		{Timestamp: time.Unix(1600000100, 0), Operation: "market_placeOrder", Symbol: "BEE", TransactionID: "t2"},
	}, nil)

	n := NewNormalizer(NormalizerConfig{Location: loc}, up, up, nil)

	_, events, err := n.Normalize(context.Background(), alice)

	require.NoError(t, err)
	require.Len(t, events, 2, "no filtering before classification")
	assert.Equal(t, "2020-09-13 14:26:40", events[0].Date.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "t2", events[1].TransactionID)
}
