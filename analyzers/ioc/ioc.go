// Package ioc searches the rows of a written bundle for indicator patterns.
package ioc

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"irkit/evidence"
)

type Match struct {
	Pattern   string `json:"pattern"`
	Artifact  string `json:"artifact"`
	Collector string `json:"collector"`
	Row       int    `json:"row"`
	Field     string `json:"field"`
	Value     string `json:"value"`
}

type Result struct {
	IOCFile  string  `json:"ioc_file,omitempty"`
	Patterns int     `json:"patterns"`
	Scanned  int     `json:"scanned"`
	Matches  []Match `json:"matches"`
}

// LoadPatterns reads one pattern per line, skipping blank lines and # comments.
func LoadPatterns(fs afero.Fs, path string) ([]string, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}

	var patterns []string
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, errors.New("IOC file contained no patterns")
	}
	return patterns, nil
}

// Scan reports every field value of every row in the bundle that contains one
// of patterns. Matches follow bundle, row and field order.
func Scan(ctx context.Context, fs afero.Fs, dir string, patterns []string) (Result, error) {
	res := Result{Patterns: len(patterns), Matches: []Match{}}

	mb, err := afero.ReadFile(fs, filepath.Join(dir, evidence.ManifestFile))
	if err != nil {
		return res, errors.Wrap(err, "read manifest")
	}

	for _, file := range gjson.GetBytes(mb, "records.#.file").Array() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b, err := afero.ReadFile(fs, filepath.Join(dir, file.String()))
		if err != nil {
			return res, errors.Wrapf(err, "read %s", file.String())
		}
		res.Scanned++
		res.Matches = append(res.Matches, scanArtifact(file.String(), gjson.ParseBytes(b), patterns)...)
	}
	return res, nil
}

func scanArtifact(file string, rec gjson.Result, patterns []string) []Match {
	var matches []Match
	collector := rec.Get("collector_id").String()
	i := 0
	rec.Get("payload").ForEach(func(_, row gjson.Result) bool {
		row.ForEach(func(field, value gjson.Result) bool {
			v := value.String()
			for _, p := range patterns {
				if strings.Contains(v, p) {
					matches = append(matches, Match{
						Pattern:   p,
						Artifact:  file,
						Collector: collector,
						Row:       i,
						Field:     field.String(),
						Value:     v,
					})
				}
			}
			return true
		})
		i++
		return true
	})
	return matches
}
