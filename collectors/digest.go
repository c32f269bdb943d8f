package collectors

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// canonicalRecord fixes the field order of the hashed serialization.
// collected_at is the only timestamp that is part of it.
type canonicalRecord struct {
	CollectorID string   `json:"collector_id"`
	Category    Category `json:"category"`
	CollectedAt string   `json:"collected_at"`
	Status      Status   `json:"status"`
	Error       string   `json:"error"`
	Payload     []Row    `json:"payload"`
}

// Canonical returns the stable byte serialization the record digest is taken over.
// Row keys are emitted in sorted order by encoding/json; invalid UTF-8 in
// rows is escaped the same way Normalize does.
func (r Record) Canonical() ([]byte, error) {
	r = r.ValidUTF8()
	payload := r.Payload
	if payload == nil {
		payload = []Row{}
	}
	c := canonicalRecord{
		CollectorID: r.CollectorID,
		Category:    r.Category,
		CollectedAt: r.CollectedAt.UTC().Format(time.RFC3339Nano),
		Status:      r.Status,
		Error:       r.Error,
		Payload:     payload,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ValidUTF8 returns r with invalid UTF-8 in its payload and error escaped as
// \xNN text. Records produced by Run are already in this form.
func (r Record) ValidUTF8() Record {
	r.Payload = escapeRows(r.Payload)
	r.Error = escapeInvalidUTF8(r.Error)
	return r
}

// ComputeDigest returns the hex SHA-256 of the canonical serialization.
func (r Record) ComputeDigest() (string, error) {
	b, err := r.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
