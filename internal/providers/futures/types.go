package futures

// Ticker24hr is one symbol's 24h rolling ticker window.
type Ticker24hr struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Count              int64  `json:"count"`
	TakerBuyBaseVolume string `json:"takerBuyBaseAssetVolume"`
}

// PremiumIndex carries the current funding rate and mark/index price.
type PremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// OpenInterest is a single symbol's current open interest, in base units.
type OpenInterest struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

// ExchangeInfo is the subset of the exchange metadata endpoint this system
// relies on: per-symbol trading status and quote asset.
type ExchangeInfo struct {
	Symbols []ExchangeSymbol `json:"symbols"`
}

// ExchangeSymbol describes one listed contract.
type ExchangeSymbol struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	QuoteAsset   string `json:"quoteAsset"`
	BaseAsset    string `json:"baseAsset"`
	ContractType string `json:"contractType"`
}
