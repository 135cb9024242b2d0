package ssi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/resilience"
)

// API paths relative to the trading base URL.
const (
	pathNewOrder    = "/v2/orders/new"
	pathCancelOrder = "/v2/orders/cancel"
	pathOrderByID   = "/v2/orders/details"
	pathOpenOrders  = "/v2/orders/open"
	pathPortfolio   = "/v2/account/portfolio"
	pathCash        = "/v2/account/cash"
)

// Client is the broker REST adapter. Every outbound call runs behind
// the circuit breaker with the retry policy inside it, so a broker
// outage trips the breaker instead of hammering a dead endpoint.
type Client struct {
	http    *resty.Client
	auth    *Authenticator
	signer  *RequestSigner
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryPolicy
	account string
	log     zerolog.Logger
}

// Config for the broker client.
type Config struct {
	BaseURL   string
	AuthURL   string
	AccountID string
	Creds     Credentials
	Timeout   time.Duration
}

// NewClient builds the broker adapter.
func NewClient(cfg Config, breaker *resilience.CircuitBreaker, retry resilience.RetryPolicy, log zerolog.Logger) *Client {
	l := log.With().Str("component", "ssi_client").Logger()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		auth:    NewAuthenticator(cfg.Creds, resty.New().SetTimeout(timeout), cfg.AuthURL, log),
		signer:  NewRequestSigner(cfg.Creds.ConsumerID, cfg.Creds.ConsumerSecret),
		breaker: breaker,
		retry:   retry,
		account: cfg.AccountID,
		log:     l,
	}
}

// call runs one signed, authenticated request behind the resilience
// fabric.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, c.retry, c.log, method+" "+path, func(ctx context.Context) error {
			return c.doOnce(ctx, method, path, body, out)
		})
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	token, err := c.auth.Token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeaders(c.signer.Sign(method, path, payload))
	if body != nil {
		req.SetBody(payload)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &domain.TransientError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		// Token revoked mid-session; next attempt refreshes.
		c.auth.Invalidate()
		return &domain.TransientError{Err: fmt.Errorf("%s %s: token rejected", method, path)}
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return &domain.BrokerError{
			Code:      fmt.Sprintf("HTTP_%d", resp.StatusCode()),
			Message:   string(resp.Body()),
			Transient: true,
		}
	case resp.IsError():
		return &domain.BrokerError{
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode()),
			Message: string(resp.Body()),
		}
	}
	return nil
}

type newOrderRequest struct {
	Account   string `json:"account"`
	Symbol    string `json:"instrumentID"`
	Market    string `json:"market"`
	Side      string `json:"buySell"`
	OrderType string `json:"orderType"`
	Quantity  int64  `json:"quantity"`
	Price     string `json:"price"` // decimal string, never float
	ClientRef string `json:"requestID"`
}

type newOrderResponse struct {
	OrderID string `json:"orderID"`
	Status  string `json:"orderStatus"`
	Message string `json:"message"`
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req domain.BrokerOrderRequest) (domain.BrokerOrderAck, error) {
	body := newOrderRequest{
		Account:   c.account,
		Symbol:    req.Symbol.String(),
		Market:    string(req.Exchange),
		Side:      wireSide(req.Side),
		OrderType: string(req.OrderType),
		Quantity:  req.Quantity,
		Price:     req.Price.String(),
		ClientRef: req.ClientRef,
	}

	var out newOrderResponse
	if err := c.call(ctx, http.MethodPost, pathNewOrder, body, &out); err != nil {
		return domain.BrokerOrderAck{}, err
	}
	if out.OrderID == "" {
		return domain.BrokerOrderAck{}, &domain.BrokerError{Code: "EMPTY_ORDER_ID", Message: out.Message}
	}

	c.log.Info().
		Str("broker_order_id", out.OrderID).
		Str("symbol", req.Symbol.String()).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Str("price", req.Price.String()).
		Msg("Order submitted to broker")

	return domain.BrokerOrderAck{
		BrokerOrderID: out.OrderID,
		Status:        mapBrokerStatus(out.Status, c.log),
	}, nil
}

// CancelOrder requests cancellation of a working order.
func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	body := map[string]string{"account": c.account, "orderID": brokerOrderID}
	if err := c.call(ctx, http.MethodPost, pathCancelOrder, body, nil); err != nil {
		return err
	}
	c.log.Info().Str("broker_order_id", brokerOrderID).Msg("Cancel requested")
	return nil
}

type orderDetailsResponse struct {
	Order wireOrder `json:"data"`
}

// OrderStatus fetches the broker's view of one order.
func (c *Client) OrderStatus(ctx context.Context, brokerOrderID string) (domain.BrokerOrderStatus, error) {
	var out orderDetailsResponse
	path := fmt.Sprintf("%s?account=%s&orderID=%s", pathOrderByID, c.account, brokerOrderID)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return domain.BrokerOrderStatus{}, err
	}
	return parseWireOrder(out.Order, c.log)
}

type openOrdersResponse struct {
	Orders []wireOrder `json:"data"`
}

// OpenOrders lists every working order on the account.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.BrokerOrderStatus, error) {
	var out openOrdersResponse
	path := fmt.Sprintf("%s?account=%s", pathOpenOrders, c.account)
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}

	statuses := make([]domain.BrokerOrderStatus, 0, len(out.Orders))
	for _, w := range out.Orders {
		st, err := parseWireOrder(w, c.log)
		if err != nil {
			// One corrupt row must not hide the rest of the book.
			c.log.Warn().Err(err).Msg("Skipping unparseable order row")
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

type portfolioResponse struct {
	Positions []wirePosition `json:"data"`
}

type cashResponse struct {
	Data struct {
		Cash              string `json:"cashBal"`
		PurchasingPower   string `json:"purchasingPower"`
		PendingSettlement string `json:"pendingSettlement"`
		RealizedPnL       string `json:"realizedPnL"`
	} `json:"data"`
}

// Portfolio assembles the full account snapshot from the positions
// and cash endpoints. The snapshot is built wholesale; a failure in
// either call fails the whole sync rather than producing a mixed
// view.
func (c *Client) Portfolio(ctx context.Context) (domain.PortfolioState, error) {
	var pf portfolioResponse
	path := fmt.Sprintf("%s?account=%s", pathPortfolio, c.account)
	if err := c.call(ctx, http.MethodGet, path, nil, &pf); err != nil {
		return domain.PortfolioState{}, err
	}

	var cash cashResponse
	path = fmt.Sprintf("%s?account=%s", pathCash, c.account)
	if err := c.call(ctx, http.MethodGet, path, nil, &cash); err != nil {
		return domain.PortfolioState{}, err
	}

	positions := make([]domain.Position, 0, len(pf.Positions))
	for _, w := range pf.Positions {
		p, err := parseWirePosition(w)
		if err != nil {
			return domain.PortfolioState{}, err
		}
		positions = append(positions, p)
	}

	cashBal, err := decimal.NewFromString(cash.Data.Cash)
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("corrupt cash balance %q: %w", cash.Data.Cash, err)
	}
	power, err := decimal.NewFromString(cash.Data.PurchasingPower)
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("corrupt purchasing power %q: %w", cash.Data.PurchasingPower, err)
	}
	pending := decimal.Zero
	if cash.Data.PendingSettlement != "" {
		if pending, err = decimal.NewFromString(cash.Data.PendingSettlement); err != nil {
			return domain.PortfolioState{}, fmt.Errorf("corrupt pending settlement %q: %w", cash.Data.PendingSettlement, err)
		}
	}
	realized := decimal.Zero
	if cash.Data.RealizedPnL != "" {
		if realized, err = decimal.NewFromString(cash.Data.RealizedPnL); err != nil {
			return domain.PortfolioState{}, fmt.Errorf("corrupt realized pnl %q: %w", cash.Data.RealizedPnL, err)
		}
	}

	state, err := domain.NewPortfolioState(positions,
		domain.CashBalance{Cash: cashBal, PurchasingPower: power, PendingSettlement: pending},
		realized, time.Now())
	if err != nil {
		return domain.PortfolioState{}, fmt.Errorf("inconsistent portfolio snapshot: %w", err)
	}
	return state, nil
}
