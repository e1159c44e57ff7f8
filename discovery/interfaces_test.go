package discovery

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"filenet/network"
)

func ipNet(cidr string) net.Addr {
	ip, block, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	block.IP = ip
	return block
}

func fakeInterfaces() ([]Interface, error) {
	return []Interface{
		{Name: "wlan0", Flags: net.FlagUp, Addrs: []net.Addr{ipNet("192.168.1.20/24"), ipNet("fe80::1/64")}},
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipNet("127.0.0.1/8")}},
		{Name: "eth1", Flags: 0, Addrs: []net.Addr{ipNet("10.9.9.9/8")}},
		{Name: "eth0", Flags: net.FlagUp, Addrs: []net.Addr{
			ipNet("10.0.0.5/8"),
			&net.IPAddr{IP: net.ParseIP("10.0.0.4")},
			ipNet("192.168.1.20/24"),
		}},
	}, nil
}

func TestLocalIPv4FiltersAndSorts(t *testing.T) {
	addrs, err := LocalIPv4(Config{interfacesFn: fakeInterfaces})
	require.NoError(t, err)

	got := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		got = append(got, addr.Interface+"="+addr.String())
	}
	assert.Equal(t, []string{"eth0=10.0.0.4", "eth0=10.0.0.5", "wlan0=192.168.1.20"}, got)
}

func TestLocalIPv4IncludesLoopbackOnRequest(t *testing.T) {
	addrs, err := LocalIPv4(Config{IncludeLoopback: true, interfacesFn: fakeInterfaces})
	require.NoError(t, err)

	var loopback []Address
	for _, addr := range addrs {
		if addr.Loopback {
			loopback = append(loopback, addr)
		}
	}
	require.Len(t, loopback, 1)
	assert.Equal(t, "127.0.0.1", loopback[0].String())
}

func TestLocalIPv4PropagatesErrors(t *testing.T) {
	_, err := LocalIPv4(Config{interfacesFn: func() ([]Interface, error) {
		return nil, errors.New("boom")
	}})
	assert.Error(t, err)
}

func TestLocalIPv4OnThisHost(t *testing.T) {
	addrs, err := LocalIPv4(Config{IncludeLoopback: true})
	require.NoError(t, err)
	for _, addr := range addrs {
		assert.NotEqual(t, [4]byte{}, addr.IP)
	}
}

func TestPopulateAddsReadyEndpoints(t *testing.T) {
	set := &network.EndpointSet{}
	addrs := []Address{
		{Interface: "eth0", IP: [4]byte{10, 0, 0, 5}},
		{Interface: "wlan0", IP: [4]byte{192, 168, 1, 20}},
	}

	endpoints := Populate(set, network.KindListen, 7000, addrs, network.LinkOptions{})
	require.Len(t, endpoints, 2)
	assert.Len(t, set.List(), 2)
	assert.Equal(t, "10.0.0.5:7000", endpoints[0].String())
	assert.Equal(t, "192.168.1.20:7000", endpoints[1].String())
	for _, endpoint := range endpoints {
		assert.Equal(t, network.StateReady, endpoint.State())
		assert.Equal(t, network.KindListen, endpoint.Kind())
	}
}
