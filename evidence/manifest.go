package evidence

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"irkit/collectors"
	"irkit/collectors/system"
	"irkit/faults"
)

const (
	FormatVersion = "1"
	ManifestFile  = "manifest.json"
)

type ManifestRecord struct {
	Index          int                 `json:"index"`
	CollectorID    string              `json:"collector_id"`
	Category       collectors.Category `json:"category"`
	Status         collectors.Status   `json:"status"`
	File           string              `json:"file"`
	RawBytesDigest string              `json:"raw_bytes_digest"`
	FileSHA256     string              `json:"file_sha256"`
}

// Manifest binds every artifact file of a bundle to its session.
type Manifest struct {
	FormatVersion string           `json:"format_version"`
	ToolVersion   string           `json:"tool_version"`
	SessionID     string           `json:"session_id"`
	Mode          collectors.Mode  `json:"mode"`
	GeneratedAt   string           `json:"generated_at"`
	Host          system.Host      `json:"host"`
	Records       []ManifestRecord `json:"records"`
	BundleDigest  string           `json:"bundle_digest"`
}

type SealInput struct {
	SessionID   string
	Mode        collectors.Mode
	ToolVersion string
	Host        system.Host
	GeneratedAt time.Time
	Records     []collectors.Record
}

// Seal builds the manifest for a finished session. Records lacking a digest get
// one computed; a digest that cannot be computed is an IntegrityError. Seal is
// pure: the same input always yields the same manifest bytes.
func Seal(in SealInput) (Manifest, error) {
	m := Manifest{
		FormatVersion: FormatVersion,
		ToolVersion:   in.ToolVersion,
		SessionID:     in.SessionID,
		Mode:          in.Mode,
		GeneratedAt:   in.GeneratedAt.UTC().Format(time.RFC3339Nano),
		Host:          in.Host,
		Records:       make([]ManifestRecord, 0, len(in.Records)),
	}

	for i, rec := range in.Records {
		rec, err := ensureDigest(rec)
		if err != nil {
			return Manifest{}, err
		}
		b, err := EncodeArtifact(rec)
		if err != nil {
			return Manifest{}, &faults.IntegrityError{Subject: rec.CollectorID, Err: err}
		}
		m.Records = append(m.Records, ManifestRecord{
			Index:          i + 1,
			CollectorID:    rec.CollectorID,
			Category:       rec.Category,
			Status:         rec.Status,
			File:           FileName(i+1, rec),
			RawBytesDigest: rec.RawBytesDigest,
			FileSHA256:     SHA256Bytes(b),
		})
	}
	m.BundleDigest = BundleDigest(m.Records)
	return m, nil
}

// PrepareRecords returns the records as they are written: each carries its
// digest.
func PrepareRecords(records []collectors.Record) ([]collectors.Record, error) {
	out := make([]collectors.Record, 0, len(records))
	for _, rec := range records {
		rec, err := ensureDigest(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func ensureDigest(rec collectors.Record) (collectors.Record, error) {
	if rec.RawBytesDigest != "" {
		return rec, nil
	}
	d, err := rec.ComputeDigest()
	if err != nil {
		return rec, &faults.IntegrityError{Subject: rec.CollectorID, Err: errors.Wrap(err, "compute digest")}
	}
	rec.RawBytesDigest = d
	return rec, nil
}

// BundleDigest is the SHA-256 over the concatenated record digests, in order.
func BundleDigest(records []ManifestRecord) string {
	var sb strings.Builder
	for _, r := range records {
		sb.WriteString(r.RawBytesDigest)
	}
	return SHA256Bytes([]byte(sb.String()))
}

func (m Manifest) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, errors.Wrap(err, "encode manifest")
	}
	return buf.Bytes(), nil
}

func DecodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "decode manifest")
	}
	return m, nil
}
