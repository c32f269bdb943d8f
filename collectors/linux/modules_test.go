package linux

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irkit/collectors"
)

const procModules = `nf_tables 344064 0 - Live 0x0000000000000000
xt_conntrack 16384 2 nf_conntrack,x_tables, Live 0xffffffffc0a1b000
broken
`

func TestParseProcModules(t *testing.T) {
	rows := parseProcModules([]byte(procModules))
	require.Len(t, rows, 2)

	assert.Equal(t, "nf_tables", rows[0]["name"])
	assert.Equal(t, "344064", rows[0]["size_bytes"])
	assert.Equal(t, "", rows[0]["dependencies"])
	assert.Equal(t, "Live", rows[0]["state"])

	assert.Equal(t, "nf_conntrack,x_tables", rows[1]["dependencies"])
	assert.Equal(t, "0xffffffffc0a1b000", rows[1]["address"])
}

func TestParseLsmod(t *testing.T) {
	out := "Module                  Size  Used by\nxt_conntrack           16384  2\nnf_conntrack          172032  1 xt_conntrack\n"
	rows := parseLsmod([]byte(out))
	require.Len(t, rows, 2)
	assert.Equal(t, "xt_conntrack", rows[0]["name"])
	assert.Equal(t, "2", rows[0]["instances"])
	assert.Equal(t, "xt_conntrack", rows[1]["dependencies"])
}

func TestModuleCollectPrefersProc(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, modulesPath, []byte(procModules), 0o444))

	c := NewModuleCollector(ModuleOptions{FS: fs})
	c.lsmod = func(ctx context.Context) ([]byte, error) {
		t.Fatal("lsmod must not run when /proc/modules is readable")
		return nil, nil
	}

	rows, err := c.Collect(context.Background(), collectors.RunContext{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestModuleCollectFallback(t *testing.T) {
	c := NewModuleCollector(ModuleOptions{FS: afero.NewMemMapFs()})
	c.lsmod = func(ctx context.Context) ([]byte, error) {
		return []byte("Module Size Used by\nloop 32768 0\n"), nil
	}
	rows, err := c.Collect(context.Background(), collectors.RunContext{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "loop", rows[0]["name"])

	c.lsmod = func(ctx context.Context) ([]byte, error) { return nil, errors.New("lsmod unavailable") }
	rows, err = c.Collect(context.Background(), collectors.RunContext{})
	assert.Empty(t, rows)
	assert.ErrorContains(t, err, "lsmod fallback")
}
