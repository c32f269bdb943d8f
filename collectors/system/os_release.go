package system

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/spf13/afero"
)

var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// OSRelease holds the KEY=value pairs of an os-release file.
type OSRelease map[string]string

func (r OSRelease) PrettyName() string {
	if v := r["PRETTY_NAME"]; v != "" {
		return v
	}
	return strings.TrimSpace(r["NAME"] + " " + r["VERSION"])
}

// ReadOSRelease reads the first os-release file that exists.
func ReadOSRelease(fs afero.Fs) (OSRelease, error) {
	var data []byte
	var err error
	for _, p := range osReleasePaths {
		data, err = afero.ReadFile(fs, p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return parseOSRelease(data), nil
}

func parseOSRelease(b []byte) OSRelease {
	rel := OSRelease{}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		rel[k] = strings.Trim(v, `"'`)
	}
	return rel
}
