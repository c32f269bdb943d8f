// Package evidence turns session records into a sealed, verifiable bundle:
// artifact encoding, the manifest, and bundle verification.
package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"irkit/collectors"
)

// FileName is the bundle file name of the record at position index (1-based).
func FileName(index int, rec collectors.Record) string {
	return fmt.Sprintf("%02d_%s.%s.json", index, rec.CollectorID, rec.Category)
}

// EncodeArtifact renders rec as indented JSON. The output depends only on the
// record's persisted fields, so equal records encode to equal bytes.
func EncodeArtifact(rec collectors.Record) ([]byte, error) {
	rec = rec.ValidUTF8()
	if rec.Payload == nil {
		rec.Payload = []collectors.Row{}
	}
	rec.CollectedAt = rec.CollectedAt.UTC()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return nil, errors.Wrapf(err, "encode %s", rec.CollectorID)
	}
	return buf.Bytes(), nil
}

func DecodeArtifact(b []byte) (collectors.Record, error) {
	var rec collectors.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return collectors.Record{}, errors.Wrap(err, "decode artifact")
	}
	return rec, nil
}
