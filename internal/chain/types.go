package chain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BlockTime parses the node's timestamp format, which carries no zone and
// is always UTC.
type BlockTime struct {
	time.Time
}

const blockTimeLayout = "2006-01-02T15:04:05"

// UnmarshalJSON implements json.Unmarshaler
func (t *BlockTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.ParseInLocation(blockTimeLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid block timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON implements json.Marshaler
func (t BlockTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Time.UTC().Format(blockTimeLayout) + `"`), nil
}

// Operation is one chain operation, serialized on the wire as a
// [name, payload] pair.
type Operation struct {
	Type  string
	Value json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler
func (o *Operation) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("operation pair has %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &o.Type); err != nil {
			return fmt.Errorf("invalid operation name: %w", err)
		}
		o.Value = pair[1]
		return nil
	}

	// Appbase style: {"type": "comment_operation", "value": {...}}
	var obj struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}
	o.Type = strings.TrimSuffix(obj.Type, "_operation")
	o.Value = obj.Value
	return nil
}

// Transaction is one chain transaction
type Transaction struct {
	Operations []Operation `json:"operations"`
}

// Block is one primary chain block
type Block struct {
	BlockID      string        `json:"block_id"`
	Previous     string        `json:"previous"`
	Timestamp    BlockTime     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

// CommentOperation creates or edits a piece of content
type CommentOperation struct {
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	JSONMetadata   string `json:"json_metadata"`
}

// DeleteCommentOperation removes a piece of content
type DeleteCommentOperation struct {
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
}

// CustomJSONOperation carries an app defined payload
type CustomJSONOperation struct {
	ID                   string   `json:"id"`
	JSON                 string   `json:"json"`
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
}

// Actor returns the account authorizing a custom_json op: the first posting
// auth, falling back to the first active auth.
func (op *CustomJSONOperation) Actor() string {
	if len(op.RequiredPostingAuths) > 0 {
		return op.RequiredPostingAuths[0]
	}
	if len(op.RequiredAuths) > 0 {
		return op.RequiredAuths[0]
	}
	return ""
}

// Content is the node's view of a post, as returned by get_content. Only
// the fields the reconciler needs are decoded.
type Content struct {
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	Body           string `json:"body"`
	Title          string `json:"title"`
	JSONMetadata   string `json:"json_metadata"`
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Category       string `json:"category"`
	Depth          int16  `json:"depth"`
	URL            string `json:"url"`
}
