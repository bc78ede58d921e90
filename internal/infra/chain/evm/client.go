package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain"
	"github.com/vietddude/affiliate-indexer/internal/infra/rpc"
)

// TransferTopic is the keccak hash of Transfer(address,address,uint256).
const TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Client implements chain.Reader over JSON-RPC for EVM chains.
//
// Watched addresses are fee recipients, which are usually EOAs and
// never emit logs themselves, so FilterLogs matches ERC-20 Transfer
// logs whose recipient topic is one of the watched addresses.
type Client struct {
	chainID domain.ChainID
	mgr     *rpc.Manager
}

// NewClient creates an EVM reader backed by the connection manager.
func NewClient(chainID domain.ChainID, mgr *rpc.Manager) *Client {
	return &Client{chainID: chainID, mgr: mgr}
}

// HeadNumber returns the current chain head height.
func (c *Client) HeadNumber(ctx context.Context) (uint64, error) {
	result, err := c.mgr.Call(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	headHex, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("invalid block number response")
	}
	return parseHexUint(headHex)
}

// HeaderByNumber returns the header for a block number.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*chain.Header, error) {
	numHex := fmt.Sprintf("0x%x", number)
	result, err := c.mgr.Call(ctx, "eth_getBlockByNumber", []any{numHex, false})
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if result == nil {
		return nil, chain.ErrBlockNotFound
	}

	raw, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid block format")
	}

	parsedNum, _ := parseHexUint(getString(raw["number"]))
	timestamp, _ := parseHexUint(getString(raw["timestamp"]))

	return &chain.Header{
		Number:     parsedNum,
		Hash:       getString(raw["hash"]),
		ParentHash: getString(raw["parentHash"]),
		Time:       timestamp,
	}, nil
}

// FilterLogs queries Transfer logs paying any of the watched addresses
// within [fromBlock, toBlock].
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock, toBlock uint64,
	addresses []string,
) ([]domain.RawLogMatch, error) {
	recipientTopics := make([]any, 0, len(addresses))
	for _, addr := range addresses {
		recipientTopics = append(recipientTopics, AddressTopic(addr))
	}

	filter := map[string]any{
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"topics": []any{
			TransferTopic,
			nil,
			recipientTopics,
		},
	}

	result, err := c.mgr.Call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}

	rawLogs, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid logs response")
	}

	matches := make([]domain.RawLogMatch, 0, len(rawLogs))
	for _, entry := range rawLogs {
		raw, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		match, err := c.parseLog(raw)
		if err != nil {
			return nil, fmt.Errorf("parse log: %w", err)
		}
		matches = append(matches, match)
	}

	return matches, nil
}

func (c *Client) parseLog(raw map[string]any) (domain.RawLogMatch, error) {
	blockNum, err := parseHexUint(getString(raw["blockNumber"]))
	if err != nil {
		return domain.RawLogMatch{}, fmt.Errorf("bad blockNumber: %w", err)
	}
	logIndex, err := parseHexUint(getString(raw["logIndex"]))
	if err != nil {
		return domain.RawLogMatch{}, fmt.Errorf("bad logIndex: %w", err)
	}

	var topics []string
	if rawTopics, ok := raw["topics"].([]any); ok {
		for _, t := range rawTopics {
			topics = append(topics, getString(t))
		}
	}

	data, err := decodeHexBytes(getString(raw["data"]))
	if err != nil {
		return domain.RawLogMatch{}, fmt.Errorf("bad data: %w", err)
	}

	return domain.RawLogMatch{
		ChainID:     c.chainID,
		BlockNumber: blockNum,
		BlockHash:   getString(raw["blockHash"]),
		TxHash:      getString(raw["transactionHash"]),
		LogIndex:    uint32(logIndex),
		Address:     strings.ToLower(getString(raw["address"])),
		Topics:      topics,
		Data:        data,
	}, nil
}

// AddressTopic left-pads a 20-byte address into a 32-byte topic.
func AddressTopic(addr string) string {
	addr = strings.ToLower(strings.TrimPrefix(addr, "0x"))
	return "0x000000000000000000000000" + addr
}

// TopicAddress extracts the 20-byte address from a 32-byte topic.
func TopicAddress(topic string) string {
	topic = strings.TrimPrefix(topic, "0x")
	if len(topic) != 64 {
		return ""
	}
	return "0x" + strings.ToLower(topic[24:])
}

func parseHexUint(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty hex string")
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

func decodeHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func getString(v any) string {
	s, _ := v.(string)
	return s
}
