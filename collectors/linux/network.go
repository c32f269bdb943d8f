package linux

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/v3/net"

	"irkit/collectors"
)

// Linux socket constants as reported by gopsutil.
const (
	afUnix     = 1
	afInet     = 2
	afInet6    = 10
	sockStream = 1
	sockDgram  = 2
)

type connectionRow struct {
	Kind          string `structs:"kind"`
	Proto         string `structs:"proto"`
	LocalAddress  string `structs:"local_address"`
	LocalPort     string `structs:"local_port"`
	RemoteAddress string `structs:"remote_address"`
	RemotePort    string `structs:"remote_port"`
	State         string `structs:"state"`
	PID           string `structs:"pid"`
}

type interfaceRow struct {
	Kind      string   `structs:"kind"`
	Interface string   `structs:"interface"`
	Addresses []string `structs:"addresses"`
}

type socketSource interface {
	connections(ctx context.Context) ([]psnet.ConnectionStat, error)
	interfaces(ctx context.Context) (psnet.InterfaceStatList, error)
	ss(ctx context.Context) ([]byte, error)
}

type NetworkOptions struct {
	AllowUnprivileged bool
}

type NetworkCollector struct {
	allowUnprivileged bool
	src               socketSource
}

func NewNetworkCollector(opts NetworkOptions) *NetworkCollector {
	return &NetworkCollector{allowUnprivileged: opts.AllowUnprivileged, src: hostSockets{}}
}

func (c *NetworkCollector) ID() string                    { return "network" }
func (c *NetworkCollector) Category() collectors.Category { return collectors.CategoryNetwork }
func (c *NetworkCollector) Schema() []string              { return collectors.NetworkSchema }

// Precondition requires privilege because mapping sockets to owning pids
// needs read access to every process's fd table.
func (c *NetworkCollector) Precondition(ctx context.Context, rc collectors.RunContext) error {
	return requirePrivilege(rc, c.allowUnprivileged)
}

func (c *NetworkCollector) Collect(ctx context.Context, rc collectors.RunContext) ([]collectors.Row, error) {
	var rows []collectors.Row

	conns, err := c.src.connections(ctx)
	if err != nil {
		out, ssErr := c.src.ss(ctx)
		if ssErr != nil {
			return nil, errors.Wrapf(err, "socket table unavailable (ss fallback: %v)", ssErr)
		}
		rows = parseSS(out)
	} else {
		for _, cs := range conns {
			rows = append(rows, collectors.RowFrom(connectionFromStat(cs)))
		}
	}

	if err := ctx.Err(); err != nil {
		return rows, err
	}

	ifaces, err := c.src.interfaces(ctx)
	if err != nil {
		return rows, errors.Wrap(err, "list interfaces")
	}
	for _, ifc := range ifaces {
		addrs := make([]string, 0, len(ifc.Addrs))
		for _, a := range ifc.Addrs {
			addrs = append(addrs, a.Addr)
		}
		rows = append(rows, collectors.RowFrom(interfaceRow{Kind: "interface", Interface: ifc.Name, Addresses: addrs}))
	}
	return rows, nil
}

func connectionFromStat(cs psnet.ConnectionStat) connectionRow {
	row := connectionRow{
		Kind:          "connection",
		Proto:         protoName(cs.Family, cs.Type),
		LocalAddress:  cs.Laddr.IP,
		RemoteAddress: cs.Raddr.IP,
		State:         cs.Status,
	}
	if cs.Laddr.Port > 0 {
		row.LocalPort = strconv.FormatUint(uint64(cs.Laddr.Port), 10)
	}
	if cs.Raddr.Port > 0 {
		row.RemotePort = strconv.FormatUint(uint64(cs.Raddr.Port), 10)
	}
	if cs.Pid > 0 {
		row.PID = strconv.FormatInt(int64(cs.Pid), 10)
	}
	return row
}

func protoName(family, typ uint32) string {
	if family == afUnix {
		return "unix"
	}
	var p string
	switch typ {
	case sockStream:
		p = "tcp"
	case sockDgram:
		p = "udp"
	default:
		p = "raw"
	}
	if family == afInet6 {
		p += "6"
	}
	return p
}

var ssPID = regexp.MustCompile(`pid=(\d+)`)

// parseSS parses `ss -tunap` output. Lines that do not have at least the
// netid, state, queues and both endpoints are skipped.
func parseSS(out []byte) []collectors.Row {
	var rows []collectors.Row
	s := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for s.Scan() {
		line := s.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "Netid") {
				continue
			}
		}
		f := strings.Fields(line)
		if len(f) < 6 {
			continue
		}
		laddr, lport := splitHostPort(f[4])
		raddr, rport := splitHostPort(f[5])
		row := connectionRow{
			Kind:          "connection",
			Proto:         f[0],
			LocalAddress:  laddr,
			LocalPort:     lport,
			RemoteAddress: raddr,
			RemotePort:    rport,
			State:         f[1],
		}
		if len(f) > 6 {
			if m := ssPID.FindStringSubmatch(strings.Join(f[6:], " ")); m != nil {
				row.PID = m[1]
			}
		}
		rows = append(rows, collectors.RowFrom(row))
	}
	return rows
}

func splitHostPort(s string) (string, string) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, ""
	}
	host, port := s[:i], s[i+1:]
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if port == "*" {
		port = ""
	}
	return host, port
}

type hostSockets struct{}

func (hostSockets) connections(ctx context.Context) ([]psnet.ConnectionStat, error) {
	return psnet.ConnectionsWithContext(ctx, "all")
}

func (hostSockets) interfaces(ctx context.Context) (psnet.InterfaceStatList, error) {
	return psnet.InterfacesWithContext(ctx)
}

func (hostSockets) ss(ctx context.Context) ([]byte, error) {
	return runCmd(ctx, "ss", "-tunap")
}
