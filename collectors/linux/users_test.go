package linux

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irkit/collectors"
)

const passwd = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
# comment
alice:x:1000:1000:Alice:/home/alice:/bin/zsh
bad:line
bob:x:notanumber:1:bob:/home/bob:/bin/sh
`

func TestParsePasswd(t *testing.T) {
	accounts := parsePasswd([]byte(passwd))
	require.Len(t, accounts, 2)
	assert.Equal(t, "root", accounts[0].Username)
	assert.Equal(t, "alice", accounts[1].Username)
	assert.Equal(t, "/bin/zsh", accounts[1].Shell)
	assert.Equal(t, "account", accounts[1].Kind)
}

func TestUserCollect(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, passwdPath, []byte(passwd), 0o644))

	started := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	c := NewUserCollector(UserOptions{FS: fs})
	c.sessions = func(ctx context.Context) ([]host.UserStat, error) {
		return []host.UserStat{{User: "alice", Terminal: "pts/0", Host: "10.0.0.9", Started: int(started.Unix())}}, nil
	}

	rows, err := c.Collect(context.Background(), collectors.RunContext{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "session", rows[0]["kind"])
	assert.Equal(t, "pts/0", rows[0]["terminal"])
	assert.Equal(t, "2024-01-15T09:00:00Z", rows[0]["started"])
	assert.Equal(t, "account", rows[1]["kind"])
}

func TestUserCollectPartial(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, passwdPath, []byte(passwd), 0o644))

	c := NewUserCollector(UserOptions{FS: fs})
	c.sessions = func(ctx context.Context) ([]host.UserStat, error) { return nil, errors.New("no utmp") }

	rec := collectors.Run(context.Background(), c, collectors.RunContext{}, collectors.RunOptions{})
	assert.Equal(t, collectors.StatusPartial, rec.Status)
	assert.Len(t, rec.Payload, 2)
	assert.Contains(t, rec.Error, "utmp")
}
