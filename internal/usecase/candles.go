package usecase

import (
	"fmt"
	"strings"

	"SwarmTrader/internal/domain/models"
	domrepo "SwarmTrader/internal/domain/repository"
)

// CandlesUseCase serves the rolling candles the strategies scan.
type CandlesUseCase struct {
	market domrepo.MarketData
}

func NewCandlesUseCase(market domrepo.MarketData) *CandlesUseCase {
	return &CandlesUseCase{market: market}
}

type GetCandlesParams struct {
	Symbol    string
	Timeframe domrepo.Timeframe
	Limit     int
}

type GetCandlesResult struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Price     float64         `json:"price,omitempty"`
	Stale     bool            `json:"stale"`
	Count     int             `json:"count"`
	Candles   []models.Candle `json:"candles"`
}

func (uc *CandlesUseCase) GetCandles(p GetCandlesParams) (*GetCandlesResult, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("symbol required")
	}
	if !domrepo.IsValidTimeframe(p.Timeframe) {
		return nil, fmt.Errorf("unsupported timeframe %q", p.Timeframe)
	}
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Limit > 1000 {
		p.Limit = 1000
	}
	sym := strings.ToUpper(p.Symbol)
	candles := uc.market.Candles(sym, p.Timeframe, p.Limit)
	res := &GetCandlesResult{
		Symbol:    sym,
		Timeframe: string(p.Timeframe),
		Count:     len(candles),
		Candles:   candles,
	}
	px, err := uc.market.CurrentPrice(sym)
	if err != nil {
		res.Stale = true
	} else {
		res.Price = px
	}
	return res, nil
}
