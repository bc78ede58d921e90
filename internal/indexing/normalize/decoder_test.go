package normalize

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain/evm"
)

const (
	affiliateAddr = "0x35339070f178dc4119732982c23f5a8d88d3f8a3"
	senderAddr    = "0x1111111111111111111111111111111111111111"
	tokenAddr     = "0x2222222222222222222222222222222222222222"
)

func transferMatch(amount *big.Int) domain.RawLogMatch {
	return domain.RawLogMatch{
		ChainID:     "ethereum",
		BlockNumber: 500,
		BlockHash:   "0xblock500",
		TxHash:      "0xtx1",
		LogIndex:    3,
		Address:     tokenAddr,
		Topics: []string{
			evm.TransferTopic,
			evm.AddressTopic(senderAddr),
			evm.AddressTopic(affiliateAddr),
		},
		Data: amount.Bytes(),
	}
}

func TestTransferDecoder(t *testing.T) {
	amount := big.NewInt(1234567890)
	matched, payload, err := TransferDecoder(transferMatch(amount))
	if err != nil {
		t.Fatalf("TransferDecoder() error = %v", err)
	}
	if matched != affiliateAddr {
		t.Errorf("matched = %s, want %s", matched, affiliateAddr)
	}

	var p TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if p.Token != tokenAddr || p.From != senderAddr || p.To != affiliateAddr {
		t.Errorf("payload = %+v", p)
	}
	if p.Amount != "1234567890" {
		t.Errorf("amount = %s, want 1234567890", p.Amount)
	}
}

func TestTransferDecoderZeroAmount(t *testing.T) {
	m := transferMatch(big.NewInt(5))
	m.Data = nil
	_, payload, err := TransferDecoder(m)
	if err != nil {
		t.Fatal(err)
	}
	var p TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Amount != "0" {
		t.Errorf("amount = %s, want 0 for empty data", p.Amount)
	}
}

func TestTransferDecoderRejectsWrongTopicCount(t *testing.T) {
	m := transferMatch(big.NewInt(1))
	m.Topics = m.Topics[:2]
	if _, _, err := TransferDecoder(m); err == nil {
		t.Error("expected an error for a two-topic log")
	}
}

func TestTransferDecoderRejectsWrongSignature(t *testing.T) {
	m := transferMatch(big.NewInt(1))
	m.Topics[0] = "0xdeadbeef"
	if _, _, err := TransferDecoder(m); err == nil {
		t.Error("expected an error for a non-Transfer log")
	}
}

func TestRawDecoder(t *testing.T) {
	m := transferMatch(big.NewInt(1))
	matched, payload, err := RawDecoder(m)
	if err != nil {
		t.Fatal(err)
	}
	if matched != tokenAddr {
		t.Errorf("matched = %s, want the emitting address", matched)
	}
	if string(payload) != string(m.Data) {
		t.Error("payload should pass through untouched")
	}
}
