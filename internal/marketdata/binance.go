package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "binance-paper-trader/internal/errors"
	"binance-paper-trader/internal/models"
	"binance-paper-trader/pkg/utils"
)

// BinanceClient fetches futures market data from the Binance REST API.
type BinanceClient struct {
	client      *resty.Client
	timeframe   string
	candleLimit int
	retry       utils.RetryConfig
}

// BinanceConfig holds configuration for the Binance client.
type BinanceConfig struct {
	BaseURL     string
	Timeframe   string
	CandleLimit int
	Timeout     time.Duration
}

// NewBinanceClient creates a new Binance futures market data client.
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)

	return &BinanceClient{
		client:      client,
		timeframe:   cfg.Timeframe,
		candleLimit: cfg.CandleLimit,
		retry:       utils.DefaultRetryConfig(),
	}
}

// premiumIndex is the wire shape of /fapi/v1/premiumIndex.
type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// openInterest is the wire shape of /fapi/v1/openInterest.
type openInterest struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
}

// Snapshot fetches candles, mark price, funding rate and open interest for
// one asset.
func (b *BinanceClient) Snapshot(ctx context.Context, asset string) (*models.MarketSnapshot, error) {
	candles, err := b.fetchCandles(ctx, asset)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("binance", asset, "klines", err)
	}

	price, fundingRate, err := b.fetchPremiumIndex(ctx, asset)
	if err != nil {
		return nil, apperrors.NewCollaboratorError("binance", asset, "premiumIndex", err)
	}

	// Open interest is advisory prompt context; a failed fetch should not
	// cost the asset its whole cycle.
	oi, err := b.fetchOpenInterest(ctx, asset)
	if err != nil {
		oi = 0
	}

	return &models.MarketSnapshot{
		Asset:        asset,
		Price:        price,
		Candles:      candles,
		FundingRate:  fundingRate,
		OpenInterest: oi,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (b *BinanceClient) fetchCandles(ctx context.Context, asset string) ([]models.Candle, error) {
	return utils.RetryWithResult(ctx, b.retry, func() ([]models.Candle, error) {
		resp, err := b.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   asset,
				"interval": b.timeframe,
				"limit":    strconv.Itoa(b.candleLimit),
			}).
			Get("/fapi/v1/klines")
		if err != nil {
			return nil, fmt.Errorf("fetching klines for %s: %w", asset, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("klines for %s: status %d", asset, resp.StatusCode())
		}

		var raw [][]json.RawMessage
		if err := json.Unmarshal(resp.Body(), &raw); err != nil {
			return nil, fmt.Errorf("decoding klines for %s: %w", asset, err)
		}

		candles := make([]models.Candle, 0, len(raw))
		for _, row := range raw {
			c, err := parseKline(row)
			if err != nil {
				return nil, fmt.Errorf("parsing kline for %s: %w", asset, err)
			}
			candles = append(candles, c)
		}
		return candles, nil
	})
}

// parseKline decodes one Binance kline row:
// [openTime, open, high, low, close, volume, closeTime, ...].
// Prices and volume arrive as strings.
func parseKline(row []json.RawMessage) (models.Candle, error) {
	var c models.Candle
	if len(row) < 6 {
		return c, fmt.Errorf("kline row has %d fields, want at least 6", len(row))
	}

	var openTimeMs int64
	if err := json.Unmarshal(row[0], &openTimeMs); err != nil {
		return c, fmt.Errorf("open time: %w", err)
	}
	c.Timestamp = time.UnixMilli(openTimeMs).UTC()

	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return c, fmt.Errorf("field %d: %w", i+1, err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return c, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = f
	}
	return c, nil
}

func (b *BinanceClient) fetchPremiumIndex(ctx context.Context, asset string) (price, fundingRate float64, err error) {
	idx, err := utils.RetryWithResult(ctx, b.retry, func() (*premiumIndex, error) {
		var out premiumIndex
		resp, err := b.client.R().
			SetContext(ctx).
			SetQueryParam("symbol", asset).
			SetResult(&out).
			Get("/fapi/v1/premiumIndex")
		if err != nil {
			return nil, fmt.Errorf("fetching premium index for %s: %w", asset, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("premium index for %s: status %d", asset, resp.StatusCode())
		}
		return &out, nil
	})
	if err != nil {
		return 0, 0, err
	}

	price, err = strconv.ParseFloat(idx.MarkPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing mark price %q: %w", idx.MarkPrice, err)
	}
	fundingRate, err = strconv.ParseFloat(idx.LastFundingRate, 64)
	if err != nil {
		fundingRate = 0
	}
	return price, fundingRate, nil
}

func (b *BinanceClient) fetchOpenInterest(ctx context.Context, asset string) (float64, error) {
	var out openInterest
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", asset).
		SetResult(&out).
		Get("/fapi/v1/openInterest")
	if err != nil {
		return 0, fmt.Errorf("fetching open interest for %s: %w", asset, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("open interest for %s: status %d", asset, resp.StatusCode())
	}
	return strconv.ParseFloat(out.OpenInterest, 64)
}

// Ensure BinanceClient implements Provider
var _ Provider = (*BinanceClient)(nil)
