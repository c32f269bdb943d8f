package linux

import (
	"context"
	"errors"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irkit/collectors"
)

type fakeSockets struct {
	conns    []psnet.ConnectionStat
	connErr  error
	ifaces   psnet.InterfaceStatList
	ifaceErr error
	ssOut    []byte
	ssErr    error
}

func (f fakeSockets) connections(ctx context.Context) ([]psnet.ConnectionStat, error) {
	return f.conns, f.connErr
}

func (f fakeSockets) interfaces(ctx context.Context) (psnet.InterfaceStatList, error) {
	return f.ifaces, f.ifaceErr
}

func (f fakeSockets) ss(ctx context.Context) ([]byte, error) {
	return f.ssOut, f.ssErr
}

const ssSample = `Netid State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
tcp   LISTEN 0      128    0.0.0.0:22          0.0.0.0:*         users:(("sshd",pid=812,fd=3))
tcp   ESTAB  0      0      10.0.0.5:22         10.0.0.9:51234
udp   UNCONN 0      0      [::1]:323           [::]:*
short line
`

func TestParseSS(t *testing.T) {
	rows := parseSS([]byte(ssSample))
	require.Len(t, rows, 3)

	assert.Equal(t, "tcp", rows[0]["proto"])
	assert.Equal(t, "LISTEN", rows[0]["state"])
	assert.Equal(t, "0.0.0.0", rows[0]["local_address"])
	assert.Equal(t, "22", rows[0]["local_port"])
	assert.Equal(t, "", rows[0]["remote_port"])
	assert.Equal(t, "812", rows[0]["pid"])

	assert.Equal(t, "10.0.0.9", rows[1]["remote_address"])
	assert.Equal(t, "51234", rows[1]["remote_port"])
	assert.Equal(t, "", rows[1]["pid"])

	assert.Equal(t, "::1", rows[2]["local_address"])
	assert.Equal(t, "323", rows[2]["local_port"])
}

func TestProtoName(t *testing.T) {
	assert.Equal(t, "tcp", protoName(afInet, sockStream))
	assert.Equal(t, "udp6", protoName(afInet6, sockDgram))
	assert.Equal(t, "unix", protoName(afUnix, sockStream))
	assert.Equal(t, "raw", protoName(afInet, 3))
}

func TestNetworkCollect(t *testing.T) {
	c := NewNetworkCollector(NetworkOptions{})
	c.src = fakeSockets{
		conns: []psnet.ConnectionStat{{
			Family: afInet, Type: sockStream, Status: "ESTABLISHED", Pid: 812,
			Laddr: psnet.Addr{IP: "10.0.0.5", Port: 22},
			Raddr: psnet.Addr{IP: "10.0.0.9", Port: 51234},
		}},
		ifaces: psnet.InterfaceStatList{{
			Name:  "eth0",
			Addrs: psnet.InterfaceAddrList{{Addr: "10.0.0.5/24"}, {Addr: "fe80::1/64"}},
		}},
	}

	rows, err := c.Collect(context.Background(), collectors.RunContext{Privileged: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "connection", rows[0]["kind"])
	assert.Equal(t, "tcp", rows[0]["proto"])
	assert.Equal(t, "812", rows[0]["pid"])
	assert.Equal(t, "interface", rows[1]["kind"])
	assert.Equal(t, "10.0.0.5/24,fe80::1/64", rows[1]["addresses"])
}

func TestNetworkFallsBackToSS(t *testing.T) {
	c := NewNetworkCollector(NetworkOptions{})
	c.src = fakeSockets{connErr: errors.New("denied"), ssOut: []byte(ssSample)}

	rows, err := c.Collect(context.Background(), collectors.RunContext{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestNetworkInterfaceFailureKeepsSockets(t *testing.T) {
	c := NewNetworkCollector(NetworkOptions{AllowUnprivileged: true})
	c.src = fakeSockets{ssOut: []byte(ssSample), connErr: errors.New("denied"), ifaceErr: errors.New("netlink")}

	rec := collectors.Run(context.Background(), c, collectors.RunContext{}, collectors.RunOptions{})
	assert.Equal(t, collectors.StatusPartial, rec.Status)
	assert.Len(t, rec.Payload, 3)
	assert.Contains(t, rec.Error, "list interfaces")
}

func TestNetworkNoSourcesFails(t *testing.T) {
	c := NewNetworkCollector(NetworkOptions{AllowUnprivileged: true})
	c.src = fakeSockets{connErr: errors.New("denied"), ssErr: errors.New("ss unavailable")}

	rec := collectors.Run(context.Background(), c, collectors.RunContext{}, collectors.RunOptions{})
	assert.Equal(t, collectors.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "ss fallback")
}
