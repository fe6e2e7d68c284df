package torrent

import (
	"bytes"
	"encoding/json"

	"github.com/jackpal/bencode-go"
	"github.com/pkg/errors"
)

// DecodeBencode decodes a single bencoded value into the generic tree
// produced by bencode-go: int64, string, []interface{}, and
// map[string]interface{} with raw byte-string keys.
func DecodeBencode(data []byte) (interface{}, error) {
	value, err := bencode.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(ErrBencode, "%v", err)
	}

	return value, nil
}

// RenderJSON renders a decoded bencode tree as compact JSON with
// lexicographically sorted dictionary keys.
func RenderJSON(value interface{}) (string, error) {
	rendered, err := json.Marshal(value)
	if err != nil {
		return "", errors.Wrap(err, "rendering decoded value")
	}

	return string(rendered), nil
}
