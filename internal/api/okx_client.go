package api

import (
	"bytes"
	"context"
	"crypto-signal-bot/internal/model"
	"crypto-signal-bot/internal/service"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const DefaultOkxRESTURL = "https://www.okx.com"

// OkxConfig Okx V5 REST 客户端配置
type OkxConfig struct {
	APIKey     string
	SecretKey  string
	Passphrase string // Okx 独有
	RESTURL    string
	Simulated  bool // 模拟盘，附加 x-simulated-trading 头
	Timeout    time.Duration
}

// OkxAPIError Okx 返回的业务错误 (code != "0")
type OkxAPIError struct {
	Code string
	Msg  string
}

func (e *OkxAPIError) Error() string {
	return fmt.Sprintf("okx error %s: %s", e.Code, e.Msg)
}

// OkxClient 现货 REST 客户端，实现 Client
type OkxClient struct {
	cfg    OkxConfig
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

var _ Client = (*OkxClient)(nil)

func NewOkxClient(cfg OkxConfig, logger *zap.Logger) *OkxClient {
	if cfg.RESTURL == "" {
		cfg.RESTURL = DefaultOkxRESTURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OkxClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("exchange", "okx")),
		now:    time.Now,
	}
}

type okxResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Sign Okx V5 签名：Base64(HMAC-SHA256(secret, ts + method + path + body))
func Sign(secret, timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *OkxClient) do(ctx context.Context, method, path string, query url.Values, payload any, private bool, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.RESTURL+requestPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if private {
		ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.cfg.APIKey)
		req.Header.Set("OK-ACCESS-SIGN", Sign(c.cfg.SecretKey, ts, method, requestPath, string(body)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.cfg.Passphrase)
	}
	if c.cfg.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope okxResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if envelope.Code != "0" {
		// 批量类接口的明细错误 (sCode/sMsg) 在 data 中
		if out != nil && len(envelope.Data) > 0 {
			_ = json.Unmarshal(envelope.Data, out)
		}
		return &OkxAPIError{Code: envelope.Code, Msg: envelope.Msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// okxBar 周期字符串转为 Okx bar 参数，例如 1h -> 1H, 1d -> 1D
func okxBar(timeframe string) (string, error) {
	if _, err := service.ParseIntervalDuration(timeframe); err != nil {
		return "", err
	}
	unit := timeframe[len(timeframe)-1]
	switch unit {
	case 'h', 'd':
		return timeframe[:len(timeframe)-1] + strings.ToUpper(string(unit)), nil
	case 'm':
		return timeframe, nil
	}
	return "", fmt.Errorf("timeframe %q not supported by okx", timeframe)
}

// FetchOHLCV 只返回已收盘的 K 线，按时间升序
func (c *OkxClient) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]model.KLine, error) {
	bar, err := okxBar(timeframe)
	if err != nil {
		return nil, err
	}
	interval, _ := service.ParseIntervalDuration(timeframe)
	if limit <= 0 || limit > 300 {
		limit = 300
	}

	var rows [][]string
	q := url.Values{"instId": {InstID(symbol)}, "bar": {bar}, "limit": {strconv.Itoa(limit)}}
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false, &rows); err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	bars := make([]model.KLine, 0, len(rows))
	for _, row := range rows {
		// [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]
		if len(row) < 6 {
			continue
		}
		if len(row) >= 9 && row[8] == "0" {
			continue // 未收盘
		}
		ts, err := service.StringToInt64(row[0])
		if err != nil {
			continue
		}
		vals := make([]float64, 5)
		ok := true
		for i := range vals {
			if vals[i], err = service.StringToFloat(row[i+1]); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		start := time.UnixMilli(ts).UTC()
		bars = append(bars, model.KLine{
			Symbol:    symbol,
			Interval:  timeframe,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			StartTime: start,
			EndTime:   start.Add(interval - time.Millisecond),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].StartTime.Before(bars[j].StartTime) })
	return bars, nil
}

func (c *OkxClient) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	var tickers []struct {
		Last string `json:"last"`
	}
	q := url.Values{"instId": {InstID(symbol)}}
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", q, nil, false, &tickers); err != nil {
		return 0, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("fetch ticker %s: empty response", symbol)
	}
	return service.StringToFloat(tickers[0].Last)
}

func (c *OkxClient) FetchBalance(ctx context.Context) (*Balance, error) {
	var accounts []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
			CashBal  string `json:"cashBal"`
		} `json:"details"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, true, &accounts); err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	bal := &Balance{Free: make(map[string]float64), Total: make(map[string]float64)}
	for _, acct := range accounts {
		for _, d := range acct.Details {
			if free, err := service.StringToFloat(d.AvailBal); err == nil {
				bal.Free[d.Ccy] = free
			}
			if total, err := service.StringToFloat(d.CashBal); err == nil {
				bal.Total[d.Ccy] = total
			}
		}
	}
	return bal, nil
}

type okxOrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type okxOrderDetail struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	Side      string `json:"side"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
	FeeCcy    string `json:"feeCcy"`
	State     string `json:"state"`
	UTime     string `json:"uTime"`
}

// SubmitOrder 现货下单 (tdMode=cash)，随后查询一次订单获取成交数量与均价
func (c *OkxClient) SubmitOrder(ctx context.Context, req OrderRequest) (*model.Fill, error) {
	if _, _, err := SplitSymbol(req.Symbol); err != nil {
		return nil, err
	}
	ordType := "market"
	if req.Type == model.OrderTypeLimit && req.Price > 0 {
		ordType = "limit"
	}
	clOrdID := okxClientOrderID(req.ClientOrderID)

	payload := map[string]string{
		"instId":  InstID(req.Symbol),
		"tdMode":  "cash",
		"side":    req.Side.String(),
		"ordType": ordType,
		"sz":      strconv.FormatFloat(req.Amount, 'f', -1, 64),
		"tgtCcy":  "base_ccy",
	}
	if clOrdID != "" {
		payload["clOrdId"] = clOrdID
	}
	if ordType == "limit" {
		payload["px"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}

	var acks []okxOrderAck
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, true, &acks); err != nil {
		var apiErr *OkxAPIError
		if errors.As(err, &apiErr) && len(acks) > 0 && acks[0].SCode != "" {
			return nil, &OkxAPIError{Code: acks[0].SCode, Msg: acks[0].SMsg}
		}
		return nil, fmt.Errorf("place order %s: %w", req.Symbol, err)
	}
	if len(acks) == 0 {
		return nil, fmt.Errorf("place order %s: empty ack", req.Symbol)
	}
	if acks[0].SCode != "" && acks[0].SCode != "0" {
		return nil, &OkxAPIError{Code: acks[0].SCode, Msg: acks[0].SMsg}
	}
	c.logger.Info("Order placed",
		zap.String("symbol", req.Symbol),
		zap.String("side", req.Side.String()),
		zap.String("ord_id", acks[0].OrdID),
		zap.Float64("amount", req.Amount))

	q := url.Values{"instId": {InstID(req.Symbol)}, "ordId": {acks[0].OrdID}}
	fill, err := c.queryOrder(ctx, req.Symbol, q)
	if err != nil {
		c.logger.Error("Order placed but fill lookup failed",
			zap.String("symbol", req.Symbol),
			zap.String("ord_id", acks[0].OrdID),
			zap.String("cl_ord_id", clOrdID),
			zap.Error(err))
		return nil, &UnconfirmedOrderError{Symbol: req.Symbol, OrderID: acks[0].OrdID, ClientOrderID: req.ClientOrderID, Err: err}
	}
	fill.OrderID = acks[0].OrdID
	fill.ClientOrderID = req.ClientOrderID
	fill.Side = req.Side
	return fill, nil
}

// FetchOrder 按客户端订单号查询订单，用于对账未确认的下单
func (c *OkxClient) FetchOrder(ctx context.Context, symbol, clientOrderID string) (*model.Fill, error) {
	clOrdID := okxClientOrderID(clientOrderID)
	if clOrdID == "" {
		return nil, fmt.Errorf("%w: empty client order id", ErrOrderNotFound)
	}
	q := url.Values{"instId": {InstID(symbol)}, "clOrdId": {clOrdID}}
	fill, err := c.queryOrder(ctx, symbol, q)
	if err != nil {
		var apiErr *OkxAPIError
		// 51603: 订单不存在
		if errors.As(err, &apiErr) && apiErr.Code == "51603" {
			return nil, fmt.Errorf("%w: %s %s", ErrOrderNotFound, symbol, clientOrderID)
		}
		return nil, err
	}
	fill.ClientOrderID = clientOrderID
	return fill, nil
}

// okxClientOrderID Okx clOrdId 只允许字母数字，最长 32 位
func okxClientOrderID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

// queryOrder GET /trade/order 并解析累计成交；字段无法解析时返回错误
func (c *OkxClient) queryOrder(ctx context.Context, symbol string, q url.Values) (*model.Fill, error) {
	base, _, err := SplitSymbol(symbol)
	if err != nil {
		return nil, err
	}
	var details []okxOrderDetail
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &details); err != nil {
		return nil, fmt.Errorf("query order %s: %w", symbol, err)
	}
	if len(details) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrOrderNotFound, symbol, q.Encode())
	}

	d := details[0]
	filled, err1 := service.StringToFloat(d.AccFillSz)
	var avgPx, fee float64
	var err2, err3 error
	// 未成交的订单 avgPx/fee 为空串
	if filled > 0 {
		avgPx, err2 = service.StringToFloat(d.AvgPx)
		fee, err3 = service.StringToFloat(d.Fee)
	}
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("order %s fill fields: %w", d.OrdID, err)
	}
	fee = math.Abs(fee) // Okx 手续费为负数
	if d.FeeCcy == base {
		fee *= avgPx
	}
	ts := c.now()
	if ms, err := service.StringToInt64(d.UTime); err == nil {
		ts = time.UnixMilli(ms)
	}
	return &model.Fill{
		OrderID:   d.OrdID,
		Symbol:    symbol,
		Side:      model.Side(d.Side),
		Filled:    filled,
		Price:     avgPx,
		Fee:       fee,
		Timestamp: ts,
	}, nil
}

func (c *OkxClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
