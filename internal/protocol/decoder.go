package protocol

import (
	"bytes"
	"io"

	"toolstream/internal/json"
	"toolstream/internal/toolerr"
)

// MaxBatch bounds the submissions accepted from one body or frame.
const MaxBatch = 64

// DecodeSubmissions reads a submission body: a single object, an array of
// objects, or a whitespace separated sequence of either. Values may span any
// number of reads; a truncated trailing value is a ProtocolError.
func DecodeSubmissions(r io.Reader) ([]Submission, error) {
	dec := json.NewDecoder(r)
	var out []Submission
	for dec.More() {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, toolerr.Wrap(toolerr.KindProtocolError, err, "malformed submission")
		}
		// the decoder reports a value cut short by EOF as success
		if !json.Valid(raw) {
			return nil, toolerr.New(toolerr.KindProtocolError, "truncated or malformed submission")
		}
		batch, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(out) > MaxBatch {
			return nil, toolerr.New(toolerr.KindProtocolError, "more than %d submissions in one request", MaxBatch)
		}
	}
	if len(out) == 0 {
		return nil, toolerr.New(toolerr.KindProtocolError, "empty submission")
	}
	return out, nil
}

func decodeValue(raw []byte) ([]Submission, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		var batch []Submission
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, toolerr.Wrap(toolerr.KindProtocolError, err, "malformed submission batch")
		}
		return batch, nil
	case len(trimmed) > 0 && trimmed[0] == '{':
		var one Submission
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, toolerr.Wrap(toolerr.KindProtocolError, err, "malformed submission")
		}
		return []Submission{one}, nil
	}
	return nil, toolerr.New(toolerr.KindProtocolError, "submission must be a JSON object or array")
}
