package overlay

import (
	"encoding/json"
	"io"

	"github.com/pos-ledger/node/pkg/logging"
)

// decodeJSON and encodeJSON operate on whole gossipsub message payloads.
func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func encodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// readJSON and writeJSON operate directly on a stream, mirroring the raw
// json.Encoder/Decoder-over-stream pattern used for sync request/response.
func readJSON(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSONErr(w io.Writer, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

func writeJSON(w io.Writer, v interface{}, log *logging.Logger) {
	if err := writeJSONErr(w, v); err != nil {
		log.Debug("failed to write response", "error", err)
	}
}
