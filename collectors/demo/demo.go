// Package demo provides synthetic collectors for demonstrations and tests.
// They never touch the host and always succeed.
package demo

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"irkit/collectors"
)

const Hostname = "demo-server"

const (
	ProcessCount    = 156
	ConnectionCount = 23
	UserCount       = 5
	ModuleCount     = 12
	RecentFileCount = 47
)

type generator func(now time.Time) []collectors.Row

// Collector stands in for one live category with deterministic rows.
type Collector struct {
	id       string
	standsIn collectors.Category
	gen      generator
}

func (c *Collector) ID() string                    { return c.id }
func (c *Collector) Category() collectors.Category { return collectors.CategoryDemo }
func (c *Collector) Schema() []string              { return collectors.SchemaFor(c.standsIn) }

// StandsIn is the live category whose schema the rows follow.
func (c *Collector) StandsIn() collectors.Category { return c.standsIn }

func (c *Collector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.gen(rc.NowUTC()), nil
}

// Collectors returns one demo collector per live category, in registry order.
func Collectors() []collectors.Collector {
	return []collectors.Collector{
		&Collector{id: "demo_processes", standsIn: collectors.CategoryProcess, gen: processes},
		&Collector{id: "demo_network", standsIn: collectors.CategoryNetwork, gen: network},
		&Collector{id: "demo_users", standsIn: collectors.CategoryUser, gen: users},
		&Collector{id: "demo_modules", standsIn: collectors.CategoryModule, gen: modules},
		&Collector{id: "demo_disk_highlights", standsIn: collectors.CategoryDisk, gen: disk},
	}
}

var processNames = []string{"systemd", "sshd", "bash", "nginx", "postgres", "cron", "rsyslogd", "python3"}

func processes(now time.Time) []collectors.Row {
	rows := make([]collectors.Row, 0, ProcessCount)
	for i := 0; i < ProcessCount; i++ {
		pid := 1 + i*7
		name := processNames[i%len(processNames)]
		ppid := "0"
		if i > 0 {
			ppid = "1"
		}
		owner := "root"
		if i%3 == 2 {
			owner = "www-data"
		}
		rows = append(rows, collectors.Row{
			"pid":             strconv.Itoa(pid),
			"ppid":            ppid,
			"name":            name,
			"executable_path": "/usr/bin/" + name,
			"command_line":    fmt.Sprintf("/usr/bin/%s --demo-%d", name, i),
			"start_time":      now.Add(-time.Duration(ProcessCount-i) * time.Minute).Format(time.RFC3339Nano),
			"owner":           owner,
		})
	}
	return rows
}

func network(now time.Time) []collectors.Row {
	rows := make([]collectors.Row, 0, ConnectionCount+2)
	for i := 0; i < ConnectionCount; i++ {
		row := collectors.Row{
			"kind":          "connection",
			"proto":         "tcp",
			"local_address": "192.168.1.10",
			"local_port":    "22",
			"pid":           strconv.Itoa(8 + (i%10)*7),
		}
		switch {
		case i < 3:
			row["local_port"] = []string{"22", "80", "443"}[i]
			row["state"] = "LISTEN"
		default:
			row["remote_address"] = fmt.Sprintf("203.0.113.%d", 10+i)
			row["remote_port"] = strconv.Itoa(40000 + i)
			row["state"] = "ESTABLISHED"
		}
		rows = append(rows, row)
	}
	rows = append(rows,
		collectors.Row{"kind": "interface", "interface": "lo", "addresses": "127.0.0.1/8,::1/128"},
		collectors.Row{"kind": "interface", "interface": "eth0", "addresses": "192.168.1.10/24"},
	)
	return rows
}

var demoUsers = []struct{ name, uid, shell string }{
	{"root", "0", "/bin/bash"},
	{"admin", "1000", "/bin/bash"},
	{"deploy", "1001", "/bin/sh"},
	{"analyst", "1002", "/bin/zsh"},
	{"backup", "1003", "/bin/sh"},
}

func users(now time.Time) []collectors.Row {
	rows := make([]collectors.Row, 0, UserCount+1)
	rows = append(rows, collectors.Row{
		"kind":        "session",
		"username":    "admin",
		"terminal":    "pts/0",
		"remote_host": "203.0.113.50",
		"started":     now.Add(-2 * time.Hour).Format(time.RFC3339),
	})
	for _, u := range demoUsers {
		home := "/home/" + u.name
		if u.uid == "0" {
			home = "/root"
		}
		rows = append(rows, collectors.Row{
			"kind":     "account",
			"username": u.name,
			"uid":      u.uid,
			"gid":      u.uid,
			"home":     home,
			"shell":    u.shell,
		})
	}
	return rows
}

var moduleNames = []string{
	"ext4", "mbcache", "jbd2", "nf_tables", "nf_conntrack", "x_tables",
	"ip_tables", "overlay", "bridge", "stp", "llc", "e1000",
}

func modules(now time.Time) []collectors.Row {
	rows := make([]collectors.Row, 0, ModuleCount)
	for i := 0; i < ModuleCount; i++ {
		rows = append(rows, collectors.Row{
			"name":       moduleNames[i%len(moduleNames)],
			"size_bytes": strconv.Itoa(16384 * (i + 1)),
			"instances":  strconv.Itoa(i % 3),
			"state":      "Live",
			"address":    "0x0000000000000000",
		})
	}
	return rows
}

var recentDirs = []string{"/home/admin", "/tmp", "/var/log"}

func disk(now time.Time) []collectors.Row {
	rows := make([]collectors.Row, 0, RecentFileCount+3)
	for i := 0; i < RecentFileCount; i++ {
		rows = append(rows, collectors.Row{
			"kind":       "recent_file",
			"path":       fmt.Sprintf("%s/file_%02d.log", recentDirs[i%len(recentDirs)], i),
			"size_bytes": strconv.Itoa(512 * (i + 1)),
			"mode":       "-rw-r--r--",
			"mod_time":   now.Add(-time.Duration(i+1) * 15 * time.Minute).Format(time.RFC3339Nano),
			"owner_uid":  "1000",
		})
	}
	rows = append(rows,
		collectors.Row{
			"kind":   "log_tail",
			"path":   "/var/log/auth.log",
			"mode":   "-rw-r-----",
			"detail": "Accepted publickey for admin from 203.0.113.50 port 51514 ssh2",
		},
		collectors.Row{
			"kind":   "persistence",
			"path":   "/etc/cron.d",
			"mode":   "drwxr-xr-x",
			"detail": "e2scrub_all,php",
		},
		collectors.Row{
			"kind":   "persistence",
			"path":   "/etc/crontab",
			"mode":   "-rw-r--r--",
			"detail": "17 * * * * root cd / && run-parts --report /etc/cron.hourly",
		},
	)
	return rows
}
