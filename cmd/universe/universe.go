package universe

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nntaoli-project/goex"
	"github.com/nntaoli-project/goex/binance"

	"tradeengine/src/model"
	"tradeengine/src/repository"
)

var errNoCandidates = errors.New("no candidate symbol could be ranked")

// Universe ranks candidate symbols by recent quote volume and replaces the
// stored universe with the top N. User-pinned symbols survive the refresh.
type Universe struct {
	Log      *logger.Entry
	DB       *gorm.DB
	Config   *Config
	exchange goex.API
}

func (u *Universe) Start() error {
	u.Config = GetConfig()

	if u.exchange == nil {
		u.exchange = u.newBinanceInstance()
	}

	ranked, err := u.rankByQuoteVolume()
	if err != nil {
		return err
	}

	if len(ranked) > u.Config.TopN {
		ranked = ranked[:u.Config.TopN]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	repo := repository.NewSymbolRankRepository().WithDB(u.DB)
	if err := repo.ReplaceUniverse(context.Background(), ranked); err != nil {
		u.Log.WithError(err).Error("Failed to replace symbol universe")
		return err
	}

	u.Log.WithFields(logger.Fields{
		"symbols": len(ranked),
		"top":     ranked[0].Symbol,
	}).Info("Symbol universe refreshed")
	return nil
}

func (*Universe) newBinanceInstance() *binance.Binance {
	apiConfig := &goex.APIConfig{
		HttpClient: http.DefaultClient,
		Endpoint:   binance.GLOBAL_API_BASE_URL,
	}
	return binance.NewWithConfig(apiConfig)
}

// rankByQuoteVolume sums close*volume over the lookback window of hourly
// candles for every candidate. Candidates that fail to fetch are skipped,
// not fatal: one dead listing must not block the refresh.
func (u *Universe) rankByQuoteVolume() ([]model.SymbolRank, error) {
	ranked := make([]model.SymbolRank, 0, len(u.Config.Candidates()))

	for _, base := range u.Config.Candidates() {
		pair := goex.NewCurrencyPair(goex.Currency{Symbol: base}, goex.Currency{Symbol: u.Config.Quote})

		klines, err := u.exchange.GetKlineRecords(pair, goex.KLINE_PERIOD_1H, u.Config.LookbackHours)
		if err != nil {
			u.Log.WithError(err).WithField("symbol", base).Warn("Skipping candidate, kline fetch failed")
			continue
		}

		volume := decimal.Zero
		for i := range klines {
			volume = volume.Add(
				decimal.NewFromFloat(klines[i].Close).Mul(decimal.NewFromFloat(klines[i].Vol)))
		}

		quoteVolume, _ := volume.Float64()
		ranked = append(ranked, model.SymbolRank{
			Symbol:      base + u.Config.Quote,
			QuoteVolume: quoteVolume,
		})

		u.Log.WithFields(logger.Fields{
			"symbol":       base + u.Config.Quote,
			"quote_volume": quoteVolume,
		}).Debug("Candidate ranked")
	}

	if len(ranked) == 0 {
		return nil, errNoCandidates
	}

	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].QuoteVolume > ranked[j].QuoteVolume
	})
	return ranked, nil
}
