package collectors

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/structs"
	strcase "github.com/stoewer/go-strcase"
)

var (
	ProcessSchema = []string{"pid", "ppid", "name", "executable_path", "command_line", "start_time", "owner"}
	NetworkSchema = []string{"kind", "proto", "local_address", "local_port", "remote_address", "remote_port", "state", "pid", "interface", "addresses"}
	UserSchema    = []string{"kind", "username", "uid", "gid", "home", "shell", "terminal", "remote_host", "started"}
	ModuleSchema  = []string{"name", "size_bytes", "instances", "dependencies", "state", "address"}
	DiskSchema    = []string{"kind", "path", "size_bytes", "mode", "mod_time", "owner_uid", "sha256", "detail"}
)

// SchemaFor returns the declared row schema of a category.
func SchemaFor(c Category) []string {
	switch c {
	case CategoryProcess:
		return ProcessSchema
	case CategoryNetwork:
		return NetworkSchema
	case CategoryUser:
		return UserSchema
	case CategoryModule:
		return ModuleSchema
	case CategoryDisk:
		return DiskSchema
	}
	return nil
}

// Normalize projects rows onto schema: every schema field is present (empty
// when missing) and fields outside the schema are dropped. Bytes that are not
// valid UTF-8 are escaped as \xNN text. The result never aliases the input rows.
func Normalize(schema []string, rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		n := make(Row, len(schema))
		for _, k := range schema {
			n[k] = escapeInvalidUTF8(r[k])
		}
		out = append(out, n)
	}
	return out
}

// escapeInvalidUTF8 replaces every byte that is not part of a valid UTF-8
// sequence with its \xNN spelling so distinct raw values stay distinct once
// encoded as JSON.
func escapeInvalidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(&b, `\x%02x`, s[i])
			i++
			continue
		}
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

func escapeRows(rows []Row) []Row {
	for i, r := range rows {
		for k, v := range r {
			if !utf8.ValidString(k) || !utf8.ValidString(v) {
				return escapeRowsFrom(rows, i)
			}
		}
	}
	return rows
}

func escapeRowsFrom(rows []Row, start int) []Row {
	out := make([]Row, len(rows))
	copy(out, rows[:start])
	for i := start; i < len(rows); i++ {
		n := make(Row, len(rows[i]))
		for k, v := range rows[i] {
			n[escapeInvalidUTF8(k)] = escapeInvalidUTF8(v)
		}
		out[i] = n
	}
	return out
}

// RowFrom converts a tagged struct into a Row. Keys come from `structs` tags and
// are folded to snake_case; values are stringified.
func RowFrom(v interface{}) Row {
	m := structs.Map(v)
	row := make(Row, len(m))
	for k, val := range m {
		row[strcase.SnakeCase(k)] = stringify(val)
	}
	return row
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format(time.RFC3339Nano)
	case []string:
		s := ""
		for i, e := range t {
			if i > 0 {
				s += ","
			}
			s += e
		}
		return s
	default:
		return fmt.Sprint(t)
	}
}
