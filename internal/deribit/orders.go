package deribit

import "context"

// Buy places a buy order; Type defaults to "limit".
func (c *Client) Buy(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Type == "" {
		req.Type = "limit"
	}

	var result OrderResult
	if err := c.call(ctx, "private/buy", req, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Cancel cancels an open order by ID.
func (c *Client) Cancel(ctx context.Context, orderID string) (*Order, error) {
	params := map[string]string{"order_id": orderID}

	var result Order
	if err := c.call(ctx, "private/cancel", params, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Edit changes the amount and price of an open order.
func (c *Client) Edit(ctx context.Context, orderID string, amount, price float64) (*OrderResult, error) {
	params := map[string]interface{}{
		"order_id": orderID,
		"amount":   amount,
		"price":    price,
	}

	var result OrderResult
	if err := c.call(ctx, "private/edit", params, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetOpenOrders lists open limit orders on futures.
func (c *Client) GetOpenOrders(ctx context.Context) ([]Order, error) {
	params := map[string]string{
		"kind": "future",
		"type": "limit",
	}

	var result []Order
	if err := c.call(ctx, "private/get_open_orders", params, true, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPosition returns the position in one instrument.
func (c *Client) GetPosition(ctx context.Context, instrument string) (*Position, error) {
	params := map[string]string{"instrument_name": instrument}

	var result Position
	if err := c.call(ctx, "private/get_position", params, true, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
