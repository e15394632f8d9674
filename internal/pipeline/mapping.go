package pipeline

import (
	"time"

	"github.com/smartacus/smartacus/internal/persistence"
	"github.com/smartacus/smartacus/internal/providers/keepa"
)

// productFromRecord maps one fetched record onto its catalog row.
func productFromRecord(rec *keepa.ProductRecord, seenAt time.Time) persistence.Product {
	p := persistence.Product{
		ASIN:          rec.ASIN,
		Active:        true,
		FirstSeenAt:   seenAt,
		LastSeenAt:    seenAt,
		LastUpdatedAt: seenAt,
	}
	if rec.Title != "" {
		t := rec.Title
		p.Title = &t
	}
	if rec.Brand != "" {
		b := rec.Brand
		p.Brand = &b
	}
	if rec.Manufacturer != "" {
		m := rec.Manufacturer
		p.Manufacturer = &m
	}
	if rec.CategoryID != 0 {
		c := rec.CategoryID
		p.CategoryID = &c
	}
	p.CategoryPath = rec.CategoryPath
	return p
}

// snapshotFromRecord maps one fetched record onto a snapshot row. The
// delta fields stay nil; the store computes them at insert time.
func snapshotFromRecord(rec *keepa.ProductRecord, sessionID string) persistence.Snapshot {
	s := persistence.Snapshot{
		ASIN:       rec.ASIN,
		CapturedAt: rec.CapturedAt.UTC(),
		SessionID:  sessionID,

		PriceCurrent:    rec.PriceCurrent,
		PriceList:       rec.PriceList,
		PriceLowestNew:  rec.PriceLowestNew,
		PriceLowestUsed: rec.PriceLowestUsed,
		Currency:        rec.Currency,
		CouponPercent:   rec.CouponPercent,
		CouponFixed:     rec.CouponFixed,

		PrimaryRank:         rec.PrimaryRank,
		PrimaryRankCategory: rec.PrimaryRankCategory,
		SecondaryRank:       rec.SecondaryRank,

		StockStatus: stockStatusOf(rec.StockStatus),
		StockQty:    rec.StockQty,
		SellerCount: rec.SellerCount,
		Fulfillment: fulfillmentOf(rec.Fulfillment),

		RatingAvg:   rec.RatingAvg,
		RatingCount: rec.RatingCount,
		ReviewCount: rec.ReviewCount,
	}
	if s.Currency == "" {
		s.Currency = "USD"
	}
	if len(rec.StarPct) == 5 {
		s.StarPct1 = &rec.StarPct[0]
		s.StarPct2 = &rec.StarPct[1]
		s.StarPct3 = &rec.StarPct[2]
		s.StarPct4 = &rec.StarPct[3]
		s.StarPct5 = &rec.StarPct[4]
	}
	return s
}

func stockStatusOf(raw string) persistence.StockStatus {
	switch persistence.StockStatus(raw) {
	case persistence.StockInStock, persistence.StockLowStock,
		persistence.StockOutOfStock, persistence.StockBackOrdered:
		return persistence.StockStatus(raw)
	default:
		return persistence.StockUnknown
	}
}

func fulfillmentOf(raw string) persistence.Fulfillment {
	switch persistence.Fulfillment(raw) {
	case persistence.FulfillmentFBA, persistence.FulfillmentFBM, persistence.FulfillmentFirstParty:
		return persistence.Fulfillment(raw)
	default:
		return persistence.FulfillmentUnknown
	}
}
