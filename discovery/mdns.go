// Package discovery advertises the server on the local network over mDNS so
// LAN clients can find a board without knowing its address.
package discovery

import (
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"
)

const ServiceType = "_holoboard._tcp"

type Advertiser struct {
	server  *mdns.Server
	service *mdns.MDNSService
}

// Advertise announces ServiceType on port until Shutdown.
func Advertise(port int, info ...string) (*Advertiser, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}

	service, err := newService(host, host+".", port, localIPs(), info)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": "discovery",
		"service":   ServiceType,
		"port":      port,
	}).Info("advertising on the local network")
	return &Advertiser{server: server, service: service}, nil
}

func (a *Advertiser) Shutdown() error {
	return a.server.Shutdown()
}

func newService(instance, hostName string, port int, ips []net.IP, info []string) (*mdns.MDNSService, error) {
	if len(info) == 0 {
		info = []string{"Holoboard"}
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", hostName, port, ips, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	return service, nil
}

// localIPs lists the IPv4 addresses of interfaces that are up, falling back
// to loopback.
func localIPs() []net.IP {
	var ips []net.IP
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.To4())
			}
		}
	}
	if len(ips) == 0 {
		ips = append(ips, net.IPv4(127, 0, 0, 1))
	}
	return ips
}
