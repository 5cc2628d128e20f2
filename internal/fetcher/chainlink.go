package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
	sourceChainlink = "chainlink"
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed fetcher.
type ChainlinkOptions struct {
	RPCURL       string
	FeedAddress  string
	Asset        string
	Timeout      time.Duration
	MaxStaleness time.Duration
}

// Chainlink reads an aggregator's latest round via Ethereum RPC.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  *uint8
	now       func() time.Time
}

// NewChainlink builds a new on-chain price fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	if strings.TrimSpace(opts.Asset) == "" {
		opts.Asset = defaultHyperliquidCoin
	}
	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink_fetcher").Logger(),
		now:    time.Now,
	}
}

// FetchPrice calls latestRoundData and scales the answer by the feed decimals.
func (c *Chainlink) FetchPrice(ctx context.Context) (Quote, error) {
	if c.opts.RPCURL == "" {
		return Quote{}, errors.New("ethereum rpc url not configured")
	}
	if c.opts.FeedAddress == "" {
		return Quote{}, errors.New("price feed address not configured")
	}
	if !common.IsHexAddress(c.opts.FeedAddress) {
		return Quote{}, fmt.Errorf("price feed address %q is not a hex address", c.opts.FeedAddress)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Quote{}, err
	}

	addr := common.HexToAddress(c.opts.FeedAddress)

	decimals, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return Quote{}, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return Quote{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("call latestRoundData: %w", err)
	}

	q, err := parseRound(res, decimals, c.now(), c.opts.MaxStaleness)
	if err != nil {
		return Quote{}, err
	}
	q.Asset = c.opts.Asset
	return q, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (uint8, error) {
	c.clientMux.Lock()
	cached := c.decimals
	c.clientMux.Unlock()
	if cached != nil {
		return *cached, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals = &d
	c.clientMux.Unlock()
	return d, nil
}

// parseRound decodes a latestRoundData result. A round older than maxStaleness
// (when positive) is rejected.
func parseRound(res []byte, decimals uint8, now time.Time, maxStaleness time.Duration) (Quote, error) {
	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return Quote{}, err
	}
	if len(outputs) != 5 {
		return Quote{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode round answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return Quote{}, errors.New("failed to decode round timestamp")
	}

	price := decimal.NewFromBigInt(answer, -int32(decimals))
	if err := checkPrice(sourceChainlink, price); err != nil {
		return Quote{}, err
	}

	observed := time.Unix(updatedAt.Int64(), 0).UTC()
	if maxStaleness > 0 && now.Sub(observed) > maxStaleness {
		return Quote{}, fmt.Errorf("round updated at %s is older than %s", observed.Format(time.RFC3339), maxStaleness)
	}

	return Quote{
		Price:      price,
		ObservedAt: observed,
		Source:     sourceChainlink,
	}, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	c.client = client
	return client, nil
}

var _ PriceFetcher = (*Chainlink)(nil)
