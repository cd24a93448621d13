// Package chain reads block data from an Ethereum JSON-RPC endpoint.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// BlockTime is the post-merge slot time used to extrapolate future blocks.
const BlockTime = 12 * time.Second

type rpcClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

type Client struct {
	rpc rpcClient
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the current head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber: %w", err)
	}
	return n, nil
}

// BlockTimestamp returns the timestamp of block n. Blocks past the head do
// not exist yet, so their time is the head's timestamp plus BlockTime for
// every block in between.
func (c *Client) BlockTimestamp(ctx context.Context, n uint64) (time.Time, error) {
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return time.Time{}, err
	}

	target := n
	if n > head {
		target = head
	}

	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(target))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", target, err)
	}

	ts := time.Unix(int64(header.Time), 0).UTC()
	if n > head {
		ts = ts.Add(time.Duration(n-head) * BlockTime)
	}
	return ts, nil
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// BlocksSince estimates the number of blocks produced in d.
func BlocksSince(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / BlockTime)
}
