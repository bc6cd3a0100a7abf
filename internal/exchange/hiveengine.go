// Package exchange provides connectors for the upstream data sources of a report.
//
// The Hive-Engine connector answers three questions for the report service:
// which tokens an account holds, what the account's ledger history for one
// token looks like, and what the daily market history of a token is.
//
// Key features:
//   - JSON-RPC "find" queries against the tokens contract for balances
//   - Offset pagination of account history until a short page is returned
//   - Struct-tag validation of market records, invalid records are skipped
//   - Financial precision using decimal.Decimal for every quantity and price
package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"hivetax/internal/model"
	"hivetax/internal/utils"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	// defaultHiveEngineConfig provides sensible default configuration values for Hive-Engine.
	// The accounts API caps history pages at 500 records, the RPC node caps find at 1000.
	defaultHiveEngineConfig = ExchangeConfig{
		PageSize: 500,
		MaxPages: 200,
	}
)

// HiveEngineConnector reads balances, account history and market history from Hive-Engine.
type HiveEngineConnector struct {
	config   ExchangeConfig      // Pagination parameters
	rpc      Requester           // Sidechain RPC node (contracts endpoint)
	history  Requester           // Accounts history API
	validate *validator.Validate // Validator instance for record validation
}

// rpcRequest is a JSON-RPC 2.0 request to the sidechain node.
//
// Example balance query:
//
//	{
//		"jsonrpc": "2.0",
//		"id": 1,
//		"method": "find",
//		"params": {
//			"contract": "tokens",
//			"table": "balances",
//			"query": {"account": "alice"},
//			"limit": 1000,
//			"offset": 0
//		}
//	}
type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Method  string    `json:"method"`
	Params  findQuery `json:"params"`
}

type findQuery struct {
	Contract string            `json:"contract"`
	Table    string            `json:"table"`
	Query    map[string]string `json:"query"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// balance is one row of the tokens.balances table. Only the symbol matters:
// holding a balance record is the ownership signal, whatever its amount.
type balance struct {
	Account string `json:"account"`
	Symbol  string `json:"symbol" validate:"required"`
}

// historyRecord is one entry of the accounts history API.
//
// Quantities are decimal strings; fields that do not apply to an operation are
// absent or null and decode to an invalid NullDecimal.
type historyRecord struct {
	TransactionID  string              `json:"transactionId"`
	Timestamp      int64               `json:"timestamp"`
	Operation      string              `json:"operation"`
	Symbol         string              `json:"symbol"`
	Account        string              `json:"account"`
	From           string              `json:"from"`
	To             string              `json:"to"`
	Quantity       decimal.NullDecimal `json:"quantity"`
	QuantityHive   decimal.NullDecimal `json:"quantityHive"`
	QuantityTokens decimal.NullDecimal `json:"quantityTokens"`
}

// marketRecord is one daily bucket of the market history API.
type marketRecord struct {
	Timestamp int64  `json:"timestamp" validate:"required,gt=0"`   // Bucket start in Unix seconds
	OpenPrice string `json:"openPrice" validate:"required,numeric"` // Open price in SWAP.HIVE
}

// NewHiveEngineConnector creates a connector over the given transports.
//
// If no configuration is provided (cfg is nil), the connector will use default
// pagination values.
func NewHiveEngineConnector(cfg *ExchangeConfig, rpc, history Requester) (*HiveEngineConnector, error) {
	if rpc == nil || history == nil {
		return nil, fmt.Errorf("%w: rpc and history transports are required", ErrInvalidConfig)
	}

	if cfg == nil {
		cfg = &ExchangeConfig{}
	}
	resolved := *cfg

	if err := validateConfig(&resolved, &defaultHiveEngineConfig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &HiveEngineConnector{
		config:   resolved,
		rpc:      rpc,
		history:  history,
		validate: validator.New(),
	}, nil
}

// AccountTokens returns the distinct symbols of every balance record of account,
// in the order the node returns them.
func (hc *HiveEngineConnector) AccountTokens(ctx context.Context, account string) ([]string, error) {
	if err := utils.ValidateAccount(account); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "hiveengine").Str("account", account).Logger()

	seen := make(map[string]struct{})
	var tokens []string

	for page := 0; page < hc.config.MaxPages; page++ {
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      1,
			Method:  "find",
			Params: findQuery{
				Contract: "tokens",
				Table:    "balances",
				Query:    map[string]string{"account": account},
				Limit:    hc.config.PageSize,
				Offset:   page * hc.config.PageSize,
			},
		}

		var resp rpcResponse
		if err := hc.rpc.PostJSON(ctx, "contracts", req, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch balances: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("balances query failed: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}

		var balances []balance
		if len(resp.Result) > 0 && string(resp.Result) != "null" {
			if err := json.Unmarshal(resp.Result, &balances); err != nil {
				return nil, fmt.Errorf("invalid balances payload: %w", err)
			}
		}

		for _, b := range balances {
			if err := hc.validate.Struct(&b); err != nil {
				logger.Warn().Err(err).Interface("balance", b).Msg("balance validation failed")
				continue
			}
			if _, dup := seen[b.Symbol]; dup {
				continue
			}
			seen[b.Symbol] = struct{}{}
			tokens = append(tokens, b.Symbol)
		}

		if len(balances) < hc.config.PageSize {
			logger.Debug().Int("tokens", len(tokens)).Msg("balances fetched")
			return tokens, nil
		}
	}

	logger.Warn().Int("maxPages", hc.config.MaxPages).Msg("balance listing truncated")
	return tokens, nil
}

// TokenHistory returns every history record of account for token, oldest page first.
// Records are passed through as fetched; classification decides what is usable.
func (hc *HiveEngineConnector) TokenHistory(ctx context.Context, account, token string) ([]model.RawEvent, error) {
	if err := utils.ValidateAccount(account); err != nil {
		return nil, err
	}
	if err := utils.ValidateSymbol(token); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("component", "hiveengine").
		Str("account", account).
		Str("symbol", token).
		Logger()

	var events []model.RawEvent
	for page := 0; page < hc.config.MaxPages; page++ {
		query := url.Values{
			"account": {account},
			"symbol":  {token},
			"limit":   {strconv.Itoa(hc.config.PageSize)},
			"offset":  {strconv.Itoa(page * hc.config.PageSize)},
		}

		var records []json.RawMessage
		if err := hc.history.GetJSON(ctx, "accountHistory", query, &records); err != nil {
			return nil, fmt.Errorf("failed to fetch %s history: %w", token, err)
		}

		for _, raw := range records {
			r, err := decodeHistoryRecord(raw)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("txHash", r.TransactionID).
					Str("record", string(raw)).
					Msg("history record partially decoded")
			}
			events = append(events, toRawEvent(r, account))
		}

		if len(records) < hc.config.PageSize {
			logger.Debug().Int("events", len(events)).Int("pages", page+1).Msg("history fetched")
			return events, nil
		}
	}

	logger.Warn().Int("maxPages", hc.config.MaxPages).Msg("history listing truncated")
	return events, nil
}

// TokenPriceHistory returns the daily open prices of token in SWAP.HIVE.
// A token without a market yields an empty slice.
func (hc *HiveEngineConnector) TokenPriceHistory(ctx context.Context, token string) ([]model.PriceObservation, error) {
	if err := utils.ValidateSymbol(token); err != nil {
		return nil, err
	}

	var records []marketRecord
	if err := hc.history.GetJSON(ctx, "marketHistory", url.Values{"symbol": {token}}, &records); err != nil {
		return nil, fmt.Errorf("failed to fetch %s market history: %w", token, err)
	}

	observations := make([]model.PriceObservation, 0, len(records))
	for _, r := range records {
		if err := hc.validate.Struct(&r); err != nil {
			log.Warn().Err(err).Str("symbol", token).Interface("record", r).Msg("market record validation failed")
			continue
		}

		price, err := decimal.NewFromString(r.OpenPrice)
		if err != nil {
			log.Warn().Err(err).Str("symbol", token).Msg("invalid open price")
			continue
		}

		observations = append(observations, model.PriceObservation{
			Timestamp: time.Unix(r.Timestamp, 0),
			Price:     price,
		})
	}

	return observations, nil
}

// decodeHistoryRecord decodes one history entry. When the entry does not
// decode as a whole, every field that does decode is kept and the rest stay
// empty or null; the returned error describes the original failure.
func decodeHistoryRecord(raw json.RawMessage) (historyRecord, error) {
	var r historyRecord
	err := json.Unmarshal(raw, &r)
	if err == nil {
		return r, nil
	}

	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return historyRecord{}, err
	}

	r = historyRecord{
		TransactionID:  decodeField[string](fields, "transactionId"),
		Timestamp:      decodeTimestamp(fields),
		Operation:      decodeField[string](fields, "operation"),
		Symbol:         decodeField[string](fields, "symbol"),
		Account:        decodeField[string](fields, "account"),
		From:           decodeField[string](fields, "from"),
		To:             decodeField[string](fields, "to"),
		Quantity:       decodeField[decimal.NullDecimal](fields, "quantity"),
		QuantityHive:   decodeField[decimal.NullDecimal](fields, "quantityHive"),
		QuantityTokens: decodeField[decimal.NullDecimal](fields, "quantityTokens"),
	}
	return r, err
}

// decodeField returns the zero value when key is absent or does not decode into T.
func decodeField[T any](fields map[string]json.RawMessage, key string) T {
	var v T
	raw, ok := fields[key]
	if !ok {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero
	}
	return v
}

// decodeTimestamp accepts Unix seconds as a number or a numeric string.
func decodeTimestamp(fields map[string]json.RawMessage) int64 {
	if ts := decodeField[int64](fields, "timestamp"); ts != 0 {
		return ts
	}
	ts, err := strconv.ParseInt(decodeField[string](fields, "timestamp"), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func toRawEvent(r historyRecord, account string) model.RawEvent {
	if r.Account != "" {
		account = r.Account
	}
	return model.RawEvent{
		Timestamp:      time.Unix(r.Timestamp, 0),
		Operation:      r.Operation,
		Symbol:         r.Symbol,
		Account:        account,
		From:           r.From,
		To:             r.To,
		Quantity:       r.Quantity,
		QuantityHive:   r.QuantityHive,
		QuantityTokens: r.QuantityTokens,
		TransactionID:  r.TransactionID,
	}
}
