package engine

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp parses the sidechain's timestamp format, zoneless UTC.
type Timestamp struct {
	time.Time
}

const timestampLayout = "2006-01-02T15:04:05"

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid sidechain timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.UTC().Format(timestampLayout) + `"`), nil
}

// Transaction is one applied sidechain transaction. Payload and Logs are
// JSON carried as strings on the wire; handlers probe them lazily.
type Transaction struct {
	TransactionID string `json:"transactionId"`
	Sender        string `json:"sender"`
	Contract      string `json:"contract"`
	Action        string `json:"action"`
	Payload       string `json:"payload"`
	Logs          string `json:"logs"`
}

// Block is one sidechain block
type Block struct {
	BlockNumber         int64         `json:"blockNumber"`
	Timestamp           Timestamp     `json:"timestamp"`
	Transactions        []Transaction `json:"transactions"`
	VirtualTransactions []Transaction `json:"virtualTransactions"`
}
