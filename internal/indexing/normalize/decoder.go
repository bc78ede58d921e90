package normalize

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/vietddude/affiliate-indexer/internal/core/domain"
	"github.com/vietddude/affiliate-indexer/internal/infra/chain/evm"
)

// Decoder turns a raw log match into the matched watched address and a
// canonical payload. A decode failure is a permanent defect of the
// record, not a transient condition.
type Decoder func(m domain.RawLogMatch) (matchedAddress string, payload []byte, err error)

// TransferPayload is the canonical form of an ERC-20 Transfer to a
// watched address.
type TransferPayload struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// TransferDecoder decodes ERC-20 Transfer logs. The recipient topic is
// the matched address; the value comes from the data word.
func TransferDecoder(m domain.RawLogMatch) (string, []byte, error) {
	if len(m.Topics) != 3 {
		return "", nil, fmt.Errorf("transfer log has %d topics, want 3", len(m.Topics))
	}
	if m.Topics[0] != evm.TransferTopic {
		return "", nil, fmt.Errorf("unexpected topic0 %s", m.Topics[0])
	}

	from := evm.TopicAddress(m.Topics[1])
	if from == "" {
		return "", nil, fmt.Errorf("bad from topic %q", m.Topics[1])
	}
	to := evm.TopicAddress(m.Topics[2])
	if to == "" {
		return "", nil, fmt.Errorf("bad to topic %q", m.Topics[2])
	}

	amount := new(big.Int)
	if len(m.Data) > 0 {
		amount.SetBytes(m.Data)
	}

	payload, err := json.Marshal(TransferPayload{
		Token:  m.Address,
		From:   from,
		To:     to,
		Amount: amount.String(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return to, payload, nil
}

// RawDecoder passes the log through untouched, matching on the
// emitting address. Useful for chains where watched addresses are
// contracts emitting their own events.
func RawDecoder(m domain.RawLogMatch) (string, []byte, error) {
	return m.Address, m.Data, nil
}
