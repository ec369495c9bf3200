package btc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/go-errors/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fedivault/guardian/internal/config"
	"github.com/fedivault/guardian/internal/types"
)

// FeeRateFetcher produces the guardian's local estimate of the network
// feerate in satoshis per kilo-vbyte. Estimates feed feerate votes; a fetch
// error makes the guardian retract its vote instead of voting stale data.
type FeeRateFetcher interface {
	GetFeeRateSatsPerKVB() (uint64, error)
}

type MempoolFeesResp struct {
	FastestFee  uint64 `json:"fastestFee"`
	HalfHourFee uint64 `json:"halfHourFee"`
	HourFee     uint64 `json:"hourFee"`
	EconomyFee  uint64 `json:"economyFee"`
	MinimumFee  uint64 `json:"minimumFee"`
}

type MemPoolFeeFetcher struct {
	btcClient  *rpcclient.Client
	httpClient *http.Client
}

func NewMemPoolFeeFetcher(btcClient *rpcclient.Client) *MemPoolFeeFetcher {
	return &MemPoolFeeFetcher{btcClient: btcClient, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

func (f *MemPoolFeeFetcher) GetFeeRateSatsPerKVB() (uint64, error) {
	if f.btcClient == nil {
		return 0, errors.New("btc client is not set")
	}
	network := types.GetBTCNetwork(config.AppConfig.BTCNetworkType)
	var url string
	if network == &chaincfg.MainNetParams {
		url = "https://mempool.space/api/v1/fees/recommended"
	} else if network == &chaincfg.TestNet3Params {
		url = "https://mempool.space/testnet/api/v1/fees/recommended"
	}
	if len(url) == 0 {
		return getFeeRateFromBtcNode(f.btcClient)
	}
	feeResp, err := f.getFeeRate(url)
	if err != nil {
		log.Errorf("Failed to get fee rate from mempool, using btc node: %v", err)
		return getFeeRateFromBtcNode(f.btcClient)
	}
	// sat/vB -> sats per kvb
	return feeResp.HalfHourFee * 1000, nil
}

func (f *MemPoolFeeFetcher) getFeeRate(url string) (*MempoolFeesResp, error) {
	resp, err := f.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var feeResp MempoolFeesResp
	if err := json.NewDecoder(resp.Body).Decode(&feeResp); err != nil {
		return nil, err
	}

	return &feeResp, nil
}

// get fee rate from btc node
func getFeeRateFromBtcNode(btcClient *rpcclient.Client) (uint64, error) {
	feeEstimate, err := btcClient.EstimateSmartFee(3, &btcjson.EstimateModeConservative)
	if err != nil || feeEstimate == nil || feeEstimate.FeeRate == nil {
		return 0, fmt.Errorf("failed to estimate smart fee 3: %v", err)
	}

	// BTC/kB -> sats per kvb
	return uint64(*feeEstimate.FeeRate * 1e8), nil
}
