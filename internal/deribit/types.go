package deribit

// AuthResult is the public/auth response
type AuthResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// OrderBook is the public/get_order_book response. Best prices are nil when
// that side of the book is empty.
type OrderBook struct {
	InstrumentName  string       `json:"instrument_name"`
	Timestamp       int64        `json:"timestamp"`
	State           string       `json:"state"`
	BestBidPrice    *float64     `json:"best_bid_price"`
	BestBidAmount   float64      `json:"best_bid_amount"`
	BestAskPrice    *float64     `json:"best_ask_price"`
	BestAskAmount   float64      `json:"best_ask_amount"`
	MarkPrice       float64      `json:"mark_price"`
	IndexPrice      float64      `json:"index_price"`
	LastPrice       *float64     `json:"last_price"`
	SettlementPrice float64      `json:"settlement_price"`
	Bids            [][2]float64 `json:"bids"`
	Asks            [][2]float64 `json:"asks"`
}

// OrderRequest describes a limit buy
type OrderRequest struct {
	InstrumentName string  `json:"instrument_name"`
	Amount         float64 `json:"amount"`
	Price          float64 `json:"price"`
	Type           string  `json:"type"`
	Label          string  `json:"label,omitempty"`
}

// Order is an order as reported by the exchange
type Order struct {
	OrderID        string  `json:"order_id"`
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	OrderType      string  `json:"order_type"`
	OrderState     string  `json:"order_state"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	FilledAmount   float64 `json:"filled_amount"`
	AveragePrice   float64 `json:"average_price"`
	Label          string  `json:"label"`
	CreationTime   int64   `json:"creation_timestamp"`
	LastUpdateTime int64   `json:"last_update_timestamp"`
}

// Trade is a fill reported alongside an order
type Trade struct {
	TradeID   string  `json:"trade_id"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	Direction string  `json:"direction"`
	Timestamp int64   `json:"timestamp"`
}

// OrderResult is the private/buy and private/edit response
type OrderResult struct {
	Order  Order   `json:"order"`
	Trades []Trade `json:"trades"`
}

// Position is the private/get_position response
type Position struct {
	InstrumentName            string  `json:"instrument_name"`
	Kind                      string  `json:"kind"`
	Direction                 string  `json:"direction"`
	Size                      float64 `json:"size"`
	SizeCurrency              float64 `json:"size_currency"`
	AveragePrice              float64 `json:"average_price"`
	MarkPrice                 float64 `json:"mark_price"`
	IndexPrice                float64 `json:"index_price"`
	SettlementPrice           float64 `json:"settlement_price"`
	EstimatedLiquidationPrice float64 `json:"estimated_liquidation_price"`
	Leverage                  float64 `json:"leverage"`
	Delta                     float64 `json:"delta"`
	InterestValue             float64 `json:"interest_value"`
	RealizedFunding           float64 `json:"realized_funding"`
	TotalProfitLoss           float64 `json:"total_profit_loss"`
	RealizedProfitLoss        float64 `json:"realized_profit_loss"`
	FloatingProfitLoss        float64 `json:"floating_profit_loss"`
	OpenOrdersMargin          float64 `json:"open_orders_margin"`
	InitialMargin             float64 `json:"initial_margin"`
	MaintenanceMargin         float64 `json:"maintenance_margin"`
}
