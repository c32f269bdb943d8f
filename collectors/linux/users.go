package linux

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"

	"irkit/collectors"
)

const passwdPath = "/etc/passwd"

type userRow struct {
	Kind       string `structs:"kind"`
	Username   string `structs:"username"`
	UID        string `structs:"uid"`
	GID        string `structs:"gid"`
	Home       string `structs:"home"`
	Shell      string `structs:"shell"`
	Terminal   string `structs:"terminal"`
	RemoteHost string `structs:"remote_host"`
	Started    string `structs:"started"`
}

type UserOptions struct {
	FS afero.Fs
}

type UserCollector struct {
	fs       afero.Fs
	sessions func(ctx context.Context) ([]host.UserStat, error)
}

func NewUserCollector(opts UserOptions) *UserCollector {
	return &UserCollector{fs: hostFS(opts.FS), sessions: host.UsersWithContext}
}

func (c *UserCollector) ID() string                    { return "users" }
func (c *UserCollector) Category() collectors.Category { return collectors.CategoryUser }
func (c *UserCollector) Schema() []string              { return collectors.UserSchema }

// Collect reports logged-in sessions from utmp followed by interactive local
// accounts (uid 0 and uid >= 1000). Either half failing yields a partial result.
func (c *UserCollector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	var rows []collectors.Row
	var errs []string

	sessions, err := c.sessions(ctx)
	if err != nil {
		errs = append(errs, "utmp: "+err.Error())
	}
	for _, s := range sessions {
		row := userRow{Kind: "session", Username: s.User, Terminal: s.Terminal, RemoteHost: s.Host}
		if s.Started > 0 {
			row.Started = time.Unix(int64(s.Started), 0).UTC().Format(time.RFC3339)
		}
		rows = append(rows, collectors.RowFrom(row))
	}

	if err := ctx.Err(); err != nil {
		return rows, err
	}

	b, err := afero.ReadFile(c.fs, passwdPath)
	if err != nil {
		errs = append(errs, err.Error())
	} else {
		for _, a := range parsePasswd(b) {
			rows = append(rows, collectors.RowFrom(a))
		}
	}

	if len(errs) > 0 {
		return rows, errors.New(strings.Join(errs, "; "))
	}
	return rows, nil
}

func parsePasswd(b []byte) []userRow {
	var accounts []userRow
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 7 {
			continue
		}
		uid, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		if uid != 0 && uid < 1000 {
			continue
		}
		accounts = append(accounts, userRow{
			Kind:     "account",
			Username: parts[0],
			UID:      parts[2],
			GID:      parts[3],
			Home:     parts[5],
			Shell:    parts[6],
		})
	}
	return accounts
}
