package keepa

import "time"

// PricePoint is one observation in a product's price history.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// RankPoint is one observation in a product's sales-rank history.
type RankPoint struct {
	Time time.Time `json:"time"`
	Rank int64     `json:"rank"`
}

// ProductRecord is one fetched product observation, histories included
// when requested.
type ProductRecord struct {
	ASIN         string   `json:"asin"`
	Title        string   `json:"title"`
	Brand        string   `json:"brand"`
	Manufacturer string   `json:"manufacturer"`
	CategoryID   int64    `json:"categoryId"`
	CategoryPath []string `json:"categoryPath"`

	PriceCurrent    *float64 `json:"priceCurrent"`
	PriceList       *float64 `json:"priceList"`
	PriceLowestNew  *float64 `json:"priceLowestNew"`
	PriceLowestUsed *float64 `json:"priceLowestUsed"`
	Currency        string   `json:"currency"`
	CouponPercent   *float64 `json:"couponPercent"`
	CouponFixed     *float64 `json:"couponFixed"`

	PrimaryRank         *int64  `json:"primaryRank"`
	PrimaryRankCategory *string `json:"primaryRankCategory"`
	SecondaryRank       *int64  `json:"secondaryRank"`

	StockStatus string `json:"stockStatus"`
	StockQty    *int   `json:"stockQty"`
	SellerCount *int   `json:"sellerCount"`
	Fulfillment string `json:"fulfillment"`

	RatingAvg   *float64  `json:"ratingAvg"`
	RatingCount *int64    `json:"ratingCount"`
	ReviewCount *int64    `json:"reviewCount"`
	StarPct     []float64 `json:"starPct,omitempty"`

	PriceHistory []PricePoint `json:"priceHistory,omitempty"`
	RankHistory  []RankPoint  `json:"rankHistory,omitempty"`

	CapturedAt time.Time `json:"capturedAt"`
}

// ProductFailure isolates one product's failure inside a batch.
type ProductFailure struct {
	ASIN   string `json:"asin"`
	Reason string `json:"reason"`
}

// BatchResult carries the decodable records plus the explicit failure
// list; one malformed record never sinks its batch.
type BatchResult struct {
	Records        []ProductRecord  `json:"records"`
	Failed         []ProductFailure `json:"failed"`
	TokensConsumed int              `json:"tokensConsumed"`
}

// Health is the remote token-economy view.
type Health struct {
	OK              bool    `json:"ok"`
	TokensLeft      int     `json:"tokensLeft"`
	RefillPerMinute float64 `json:"refillPerMinute"`
	LastError       string  `json:"lastError,omitempty"`
}
