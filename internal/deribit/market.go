package deribit

import "context"

// GetOrderBook returns the book for instrument. A depth of zero uses the
// exchange default.
func (c *Client) GetOrderBook(ctx context.Context, instrument string, depth int) (*OrderBook, error) {
	params := map[string]interface{}{"instrument_name": instrument}
	if depth > 0 {
		params["depth"] = depth
	}

	var result OrderBook
	if err := c.call(ctx, "public/get_order_book", params, false, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
