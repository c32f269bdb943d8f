package evidence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irkit/collectors"
	"irkit/collectors/system"
)

var at = time.Date(2024, 1, 15, 10, 30, 45, 123000000, time.UTC)

func sampleRecords(t *testing.T) []collectors.Record {
	t.Helper()
	recs := []collectors.Record{
		{
			CollectorID: "processes",
			Category:    collectors.CategoryProcess,
			CollectedAt: at,
			Status:      collectors.StatusOK,
			Payload:     []collectors.Row{{"pid": "1", "name": "systemd <init>"}},
		},
		{
			CollectorID: "network",
			Category:    collectors.CategoryNetwork,
			CollectedAt: at.Add(time.Second),
			Status:      collectors.StatusFailed,
			Error:       "precondition unmet: elevated privilege required",
			Payload:     []collectors.Row{},
		},
	}
	d, err := recs[0].ComputeDigest()
	require.NoError(t, err)
	recs[0].RawBytesDigest = d
	return recs
}

func sealInput(t *testing.T) SealInput {
	return SealInput{
		SessionID:   "web-01-20240115T103045Z-deadbeef",
		Mode:        collectors.ModeLive,
		ToolVersion: "test",
		Host:        system.Host{Hostname: "web-01", OS: "linux", Arch: "amd64"},
		GeneratedAt: at.Add(time.Minute),
		Records:     sampleRecords(t),
	}
}

func TestFileName(t *testing.T) {
	rec := collectors.Record{CollectorID: "disk_highlights", Category: collectors.CategoryDisk}
	assert.Equal(t, "05_disk_highlights.disk.json", FileName(5, rec))
}

func TestEncodeArtifactRoundTripDigest(t *testing.T) {
	rec := sampleRecords(t)[0]
	b, err := EncodeArtifact(rec)
	require.NoError(t, err)
	assert.Contains(t, string(b), "systemd <init>")
	assert.NotContains(t, string(b), "finished_at")

	back, err := DecodeArtifact(b)
	require.NoError(t, err)
	d, err := back.ComputeDigest()
	require.NoError(t, err)
	assert.Equal(t, rec.RawBytesDigest, d)
}

func TestSeal(t *testing.T) {
	m, err := Seal(sealInput(t))
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, m.FormatVersion)
	assert.Equal(t, "2024-01-15T10:31:45.123Z", m.GeneratedAt)
	require.Len(t, m.Records, 2)
	assert.Equal(t, 1, m.Records[0].Index)
	assert.Equal(t, "01_processes.process.json", m.Records[0].File)
	assert.Equal(t, "02_network.network.json", m.Records[1].File)
	assert.Len(t, m.Records[1].RawBytesDigest, 64, "missing digest is computed")
	assert.Equal(t, BundleDigest(m.Records), m.BundleDigest)

	b, err := EncodeArtifact(sampleRecords(t)[0])
	require.NoError(t, err)
	assert.Equal(t, SHA256Bytes(b), m.Records[0].FileSHA256)
}

func TestSealIdempotent(t *testing.T) {
	a, err := Seal(sealInput(t))
	require.NoError(t, err)
	b, err := Seal(sealInput(t))
	require.NoError(t, err)

	ab, err := a.Encode()
	require.NoError(t, err)
	bb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, ab, bb)
	assert.Equal(t, a.BundleDigest, b.BundleDigest)
}

func TestBundleDigestOrderSensitive(t *testing.T) {
	m, err := Seal(sealInput(t))
	require.NoError(t, err)
	swapped := []ManifestRecord{m.Records[1], m.Records[0]}
	assert.NotEqual(t, m.BundleDigest, BundleDigest(swapped))
}

// writeBundle lays out a bundle the way the writer does, without fsync.
func writeBundle(t *testing.T, fs afero.Fs, dir string) Manifest {
	t.Helper()
	in := sealInput(t)
	m, err := Seal(in)
	require.NoError(t, err)
	recs, err := PrepareRecords(in.Records)
	require.NoError(t, err)
	for i, rec := range recs {
		b, err := EncodeArtifact(rec)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, m.Records[i].File), b, 0o600))
	}
	mb, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(dir, ManifestFile), mb, 0o600))
	return m
}

func TestVerifyIntact(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeBundle(t, fs, "/evidence/s1")

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%v", rep.Problems)
	assert.NoError(t, rep.Err())
	require.NotNil(t, rep.Manifest)
	assert.Len(t, rep.Manifest.Records, 2)
}

func TestVerifyDetectsTampering(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := writeBundle(t, fs, "/evidence/s1")

	p := filepath.Join("/evidence/s1", m.Records[0].File)
	b, err := afero.ReadFile(fs, p)
	require.NoError(t, err)
	b[len(b)-3] = 'X'
	require.NoError(t, afero.WriteFile(fs, p, b, 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Equal(t, m.Records[0].File, rep.Problems[0].File)
	assert.Contains(t, rep.Problems[0].Reason, "file_sha256 mismatch")
	assert.True(t, errdefs.IsDataLoss(rep.Err()))
}

func TestVerifyDetectsPayloadEdit(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := writeBundle(t, fs, "/evidence/s1")

	rec := sampleRecords(t)[0]
	rec.Payload = []collectors.Row{{"pid": "1", "name": "not-systemd"}}
	b, err := EncodeArtifact(rec)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/evidence/s1", m.Records[0].File), b, 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	var reasons []string
	for _, p := range rep.Problems {
		reasons = append(reasons, p.Reason)
	}
	assert.Len(t, reasons, 2)
	assert.Contains(t, reasons[1], "raw_bytes_digest mismatch")
}

func TestVerifyMissingAndExtraFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := writeBundle(t, fs, "/evidence/s1")
	require.NoError(t, fs.Remove(filepath.Join("/evidence/s1", m.Records[1].File)))
	require.NoError(t, afero.WriteFile(fs, "/evidence/s1/99_implant.process.json", []byte("{}"), 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	require.Len(t, rep.Problems, 2)
	assert.Equal(t, m.Records[1].File, rep.Problems[0].File)
	assert.Contains(t, rep.Problems[0].Reason, "missing")
	assert.Equal(t, "99_implant.process.json", rep.Problems[1].File)
	assert.Contains(t, rep.Problems[1].Reason, "not listed")
}

func TestVerifyManifestEdits(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := writeBundle(t, fs, "/evidence/s1")

	m.BundleDigest = SHA256Bytes([]byte("forged"))
	mb, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/evidence/s1/manifest.json", mb, 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	require.Len(t, rep.Problems, 1)
	assert.Contains(t, rep.Problems[0].Reason, "bundle_digest mismatch")
}

func TestVerifyMissingManifest(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/evidence/s1", 0o755))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	require.Len(t, rep.Problems, 1)
	assert.Equal(t, ManifestFile, rep.Problems[0].File)

	_, err = Verify(context.Background(), fs, "/evidence/nope")
	assert.Error(t, err)
}

func TestVerifySchemaViolation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/evidence/s1/manifest.json", []byte(`{"format_version":"1","records":[]}`), 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	assert.False(t, rep.OK())
	assert.Contains(t, rep.Problems[0].Reason, "schema")
}

func TestSHA256File(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a", []byte("abc"), 0o600))
	h, n, err := SHA256File(fs, "/a")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}

func TestVerifyIgnoresPathsOutsideBundle(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := writeBundle(t, fs, "/evidence/s1")

	b, err := afero.ReadFile(fs, filepath.Join("/evidence/s1", m.Records[0].File))
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/evidence/outside.json", b, 0o600))
	require.NoError(t, fs.Remove(filepath.Join("/evidence/s1", m.Records[0].File)))

	m.Records[0].File = "../outside.json"
	mb, err := m.Encode()
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/evidence/s1/manifest.json", mb, 0o600))

	rep, err := Verify(context.Background(), fs, "/evidence/s1")
	require.NoError(t, err)
	var reasons []string
	for _, p := range rep.Problems {
		if p.File == "../outside.json" {
			reasons = append(reasons, p.Reason)
		}
	}
	assert.Equal(t, []string{"not a file name inside the bundle"}, reasons)
}

func TestBareName(t *testing.T) {
	assert.True(t, bareName("01_processes.process.json"))
	for _, name := range []string{"", ".", "..", "../x", "a/b", `a\b`, "/etc/passwd"} {
		assert.False(t, bareName(name), name)
	}
}

func TestEncodeArtifactKeepsInvalidUTF8Verifiable(t *testing.T) {
	rec := sampleRecords(t)[0]
	rec.Payload = []collectors.Row{{"pid": "7", "name": "/tmp/x \xff"}}
	d, err := rec.ComputeDigest()
	require.NoError(t, err)
	rec.RawBytesDigest = d

	b, err := EncodeArtifact(rec)
	require.NoError(t, err)
	assert.Contains(t, string(b), `/tmp/x \\xff`)

	back, err := DecodeArtifact(b)
	require.NoError(t, err)
	again, err := back.ComputeDigest()
	require.NoError(t, err)
	assert.Equal(t, d, again)
}
