package discovery

import (
	"fmt"
	"net"
	"sort"

	"github.com/sirupsen/logrus"

	"filenet/network"
)

// Address is one IPv4 address bound to a local interface.
type Address struct {
	Interface string
	IP        [4]byte
	Loopback  bool
}

// String renders the address in dotted form.
func (a Address) String() string {
	return net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]).String()
}

// Interface is the part of net.Interface the scan needs.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

type interfacesFunc func() ([]Interface, error)

// Config controls which interfaces are reported.
type Config struct {
	IncludeLoopback bool

	interfacesFn interfacesFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.interfacesFn == nil {
		out.interfacesFn = systemInterfaces
	}
	return out
}

// LocalIPv4 lists the IPv4 addresses of interfaces that are up, sorted by
// interface name and address. Loopback addresses are skipped unless asked for.
func LocalIPv4(config Config) ([]Address, error) {
	config = config.withDefaults()

	ifaces, err := config.interfacesFn()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var out []Address
	seen := make(map[[4]byte]bool)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		loopback := iface.Flags&net.FlagLoopback != 0
		if loopback && !config.IncludeLoopback {
			continue
		}

		for _, addr := range iface.Addrs {
			ip := addrIP(addr).To4()
			if ip == nil || ip.IsUnspecified() {
				continue
			}
			key := [4]byte(ip)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Address{Interface: iface.Name, IP: key, Loopback: loopback})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Interface != out[j].Interface {
			return out[i].Interface < out[j].Interface
		}
		return out[i].String() < out[j].String()
	})
	return out, nil
}

// Populate adds one Ready endpoint of kind per address to set and returns them.
func Populate(set *network.EndpointSet, kind network.EndpointKind, port uint16, addresses []Address, options network.LinkOptions) []*network.Endpoint {
	endpoints := make([]*network.Endpoint, 0, len(addresses))
	for _, address := range addresses {
		endpoint := network.NewEndpoint(kind, address.IP, port, options)
		set.Add(endpoint)
		endpoints = append(endpoints, endpoint)

		logrus.WithFields(logrus.Fields{
			"interface": address.Interface,
			"endpoint":  endpoint.String(),
			"kind":      kind.String(),
		}).Debug("Endpoint prepared from local interface")
	}
	return endpoints
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"interface": iface.Name,
				"error":     err,
			}).Debug("Skipping interface without readable addresses")
			continue
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}
