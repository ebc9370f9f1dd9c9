package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	alpacaapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"krx-trader/internal/domain"
	"krx-trader/internal/util"
)

// Compile-time interface check.
var _ BrokerClient = (*AlpacaBroker)(nil)

// AlpacaBroker implements BrokerClient against the Alpaca trading and
// market-data APIs. The SDK's own retry is disabled: the engine owns the
// retry budget for order placement, and idempotent reads are retried here
// with a short backoff. A token-bucket limiter paces all outbound calls.
type AlpacaBroker struct {
	trading *alpacaapi.Client
	data    *marketdata.Client
	limiter *util.RateLimiter
}

// NewAlpacaBroker creates an AlpacaBroker with the given credentials and
// endpoints. callTimeout bounds every HTTP round trip; ratePerMin paces
// outbound API calls.
func NewAlpacaBroker(apiKey, apiSecret, baseURL, dataURL string, callTimeout time.Duration, ratePerMin int) *AlpacaBroker {
	httpClient := &http.Client{Timeout: callTimeout}

	tradingOpts := alpacaapi.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		BaseURL:    baseURL,
		RetryLimit: 0,
		HTTPClient: httpClient,
	}
	dataOpts := marketdata.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		RetryLimit: 0,
		HTTPClient: httpClient,
	}
	if dataURL != "" {
		dataOpts.BaseURL = dataURL
	}

	return &AlpacaBroker{
		trading: alpacaapi.NewClient(tradingOpts),
		data:    marketdata.NewClient(dataOpts),
		limiter: util.NewRateLimiter(ratePerMin),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string { return "alpaca" }

// PlaceOrder submits the order with the engine's order ID as the client
// order ID, making resubmission of the same intent safe on the broker side.
func (b *AlpacaBroker) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", err
	}

	qty := decimal.NewFromInt(req.Qty)
	apiReq := alpacaapi.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpacaapi.Side(req.Side),
		TimeInForce:   alpacaapi.Day,
		ClientOrderID: req.IdempotencyKey,
	}
	switch req.Type {
	case domain.OrderTypeMarket:
		apiReq.Type = alpacaapi.Market
	default:
		apiReq.Type = alpacaapi.Limit
		limit := decimal.NewFromFloat(req.LimitPrice)
		apiReq.LimitPrice = &limit
	}

	order, err := b.trading.PlaceOrder(apiReq)
	if err != nil {
		return "", classify(err)
	}
	return order.ID, nil
}

// GetOrderStatus polls the broker-side order. Reads are idempotent, so a
// transient failure is retried once before surfacing.
func (b *AlpacaBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (domain.OrderStatus, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return domain.OrderStatus{}, err
	}

	var order *alpacaapi.Order
	err := util.Retry(ctx, 2, 250*time.Millisecond, func() error {
		var err error
		order, err = b.trading.GetOrder(brokerOrderID)
		return err
	})
	if err != nil {
		return domain.OrderStatus{}, classify(err)
	}

	status := domain.OrderStatus{FilledQty: order.FilledQty.IntPart()}
	if order.FilledAvgPrice != nil {
		status.AvgFillPrice = order.FilledAvgPrice.InexactFloat64()
	}

	state, ok := mapOrderStatus(order.Status)
	if !ok {
		// Conservative default: assume still working until a later poll
		// disambiguates.
		status.State = domain.OrderStateSubmitted
		return status, fmt.Errorf("%w: %q", ErrUnknownOrderState, order.Status)
	}
	status.State = state
	return status, nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := b.trading.CancelOrder(brokerOrderID); err != nil {
		return classify(err)
	}
	return nil
}

// GetCurrentPrice returns the latest trade price for a symbol.
func (b *AlpacaBroker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var trade *marketdata.Trade
	err := util.Retry(ctx, 2, 250*time.Millisecond, func() error {
		var err error
		trade, err = b.data.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
		return err
	})
	if err != nil {
		return 0, classify(err)
	}
	return trade.Price, nil
}

// mapOrderStatus maps Alpaca order status strings onto engine states.
func mapOrderStatus(status string) (domain.OrderState, bool) {
	switch status {
	case "new", "accepted", "pending_new", "accepted_for_bidding", "pending_cancel", "held":
		return domain.OrderStateSubmitted, true
	case "partially_filled":
		return domain.OrderStatePartiallyFilled, true
	case "filled":
		return domain.OrderStateFilled, true
	case "canceled", "expired", "done_for_day":
		return domain.OrderStateCancelled, true
	case "rejected", "suspended", "stopped":
		return domain.OrderStateRejectedTerminal, true
	}
	return "", false
}

// classify sorts API failures into the engine's retry taxonomy. Rate limits
// and server-side errors are retryable; 4xx rejections are terminal.
func classify(err error) error {
	var apiErr *alpacaapi.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return Transient(err)
		default:
			return Terminal(err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Unclassified transport faults (timeouts, connection resets, DNS) are
	// worth a retry.
	return Transient(err)
}
