package collectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeFillsAndDrops(t *testing.T) {
	in := []Row{
		{"name": "ext4", "extra": "dropped"},
		{},
	}
	out := Normalize(ModuleSchema, in)

	assert.Len(t, out, 2)
	for _, r := range out {
		assert.Len(t, r, len(ModuleSchema))
		for _, k := range ModuleSchema {
			assert.Contains(t, r, k)
		}
	}
	assert.Equal(t, "ext4", out[0]["name"])
	assert.Equal(t, "", out[1]["name"])

	// input rows are not aliased
	out[0]["name"] = "changed"
	assert.Equal(t, "ext4", in[0]["name"])
}

func TestSchemaFor(t *testing.T) {
	assert.Equal(t, ProcessSchema, SchemaFor(CategoryProcess))
	assert.Equal(t, DiskSchema, SchemaFor(CategoryDisk))
	assert.Nil(t, SchemaFor(CategoryDemo))
}

func TestRowFrom(t *testing.T) {
	type sample struct {
		PID     int32     `structs:"pid"`
		Command string    `structs:"command_line"`
		Started time.Time `structs:"start_time,omitnested"`
		Deps    []string  `structs:"dependencies"`
	}
	row := RowFrom(sample{
		PID:     42,
		Command: "/usr/sbin/sshd -D",
		Started: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Deps:    []string{"a", "b"},
	})

	assert.Equal(t, "42", row["pid"])
	assert.Equal(t, "/usr/sbin/sshd -D", row["command_line"])
	assert.Equal(t, "2024-01-15T10:00:00Z", row["start_time"])
	assert.Equal(t, "a,b", row["dependencies"])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Live")
	assert.NoError(t, err)
	assert.Equal(t, ModeLive, m)

	m, err = ParseMode("demo")
	assert.NoError(t, err)
	assert.Equal(t, ModeDemo, m)

	_, err = ParseMode("turbo")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
}
