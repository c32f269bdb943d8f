package evidence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"irkit/collectors"
	"irkit/core/internal/session"
)

type postmortem struct {
	SessionID  string              `json:"session_id"`
	Mode       collectors.Mode     `json:"mode"`
	OutputRoot string              `json:"output_root"`
	Error      string              `json:"error"`
	DumpedAt   string              `json:"dumped_at"`
	Records    []collectors.Record `json:"records"`
}

// WritePostmortem dumps whatever the session collected next to, never inside,
// the bundle directory so a failed write does not lose the records. When the
// output root is unusable the dump goes to the temp directory.
func WritePostmortem(fs afero.Fs, sess *session.Session, cause error) (string, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	pm := postmortem{
		SessionID:  sess.ID,
		Mode:       sess.Mode,
		OutputRoot: sess.OutputRoot,
		DumpedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Records:    sess.Records(),
	}
	if cause != nil {
		pm.Error = cause.Error()
	}
	if pm.Records == nil {
		pm.Records = []collectors.Record{}
	}
	b, err := json.MarshalIndent(pm, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode post-mortem")
	}

	name := ".irkit-postmortem-" + sess.ID + ".json"
	primary := filepath.Join(sess.OutputRoot, name)
	if err := writeDump(fs, primary, b); err == nil {
		return primary, nil
	}
	fallback := filepath.Join(os.TempDir(), name)
	if err := writeDump(fs, fallback, b); err != nil {
		return "", errors.Wrapf(err, "write post-mortem to %s", fallback)
	}
	return fallback, nil
}

func writeDump(fs afero.Fs, path string, b []byte) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, b, 0o600)
}
