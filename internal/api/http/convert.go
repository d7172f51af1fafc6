package http

import (
	"github.com/olyamironova/exchange-core/internal/api/dto"
	"github.com/olyamironova/exchange-core/internal/domain"
)

func convertOrder(o *domain.Order) dto.Order {
	return dto.Order{
		OrderID:        o.ID,
		ClientID:       o.ClientID,
		Instrument:     o.Instrument,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Price:          o.Price,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		Remaining:      o.Remaining(),
		Status:         string(o.Status),
		RejectReason:   o.RejectReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func convertTrades(trades []*domain.Trade) []dto.Trade {
	out := make([]dto.Trade, 0, len(trades))
	for _, t := range trades {
		out = append(out, dto.Trade{
			TradeID:    t.ID,
			Instrument: t.Instrument,
			BuyOrder:   t.BuyOrder,
			SellOrder:  t.SellOrder,
			Price:      t.Price,
			Quantity:   t.Quantity,
			Timestamp:  t.Timestamp,
		})
	}
	return out
}

func convertBook(snap *domain.OrderbookSnapshot) dto.Orderbook {
	return dto.Orderbook{
		Instrument: snap.Instrument,
		Bids:       convertLevels(snap.Bids),
		Asks:       convertLevels(snap.Asks),
		Timestamp:  snap.Timestamp,
	}
}

func convertLevels(levels []domain.SnapshotLevel) []dto.Level {
	out := make([]dto.Level, 0, len(levels))
	for _, l := range levels {
		out = append(out, dto.Level{Price: l.Price, Quantity: l.Quantity, Cumulative: l.Cumulative})
	}
	return out
}

func convertPositions(positions []*domain.Position) []dto.Position {
	out := make([]dto.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, dto.Position{
			ClientID:    p.ClientID,
			Instrument:  p.Instrument,
			NetQuantity: p.NetQuantity,
			TotalCost:   p.TotalCost,
			LastUpdated: p.LastUpdated,
		})
	}
	return out
}
