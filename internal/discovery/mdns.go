// ABOUTME: mDNS discovery for phoenix-audio trace servers
// ABOUTME: Advertises a playing instance and lets monitors browse for it
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/team-phoenix/phoenix-audio/internal/version"
)

// ServiceType is the mDNS service type of a trace server
const ServiceType = "_phoenix-audio._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string        // HTTP path of the trace stream (default /trace)
	Timeout     time.Duration // per browse round (default 3s)
}

// Manager handles mDNS operations
type Manager struct {
	config   Config
	ctx      context.Context
	cancel   context.CancelFunc
	services chan *Service
}

// Service describes a discovered trace server
type Service struct {
	Name    string
	Host    string
	Port    int
	Path    string
	Version string
}

// Addr returns host:port
func (s *Service) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = "/trace"
	}
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		services: make(chan *Service, 10),
	}
}

// Advertise announces this instance until Stop
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.Path),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for trace servers until Stop
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)

		go func() {
			for entry := range entries {
				svc := serviceFromEntry(entry)
				if svc == nil {
					continue
				}

				log.Printf("Discovered trace server: %s at %s", svc.Name, svc.Addr())

				select {
				case m.services <- svc:
				case <-m.ctx.Done():
					return
				}
			}
		}()

		params := &mdns.QueryParam{
			Service: ServiceType,
			Domain:  "local",
			Timeout: m.config.Timeout,
			Entries: entries,
		}

		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
	}
}

// Services returns the channel of discovered servers
func (m *Manager) Services() <-chan *Service {
	return m.services
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Lookup browses until the first server appears or ctx is done
func Lookup(ctx context.Context) (*Service, error) {
	m := NewManager(Config{})
	defer m.Stop()
	m.Browse()

	select {
	case svc := <-m.Services():
		return svc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no trace server found: %w", ctx.Err())
	}
}

func txtRecords(path string) []string {
	return []string{"path=" + path, "version=" + version.Version}
}

// serviceFromEntry converts an mDNS answer, skipping entries without IPv4
func serviceFromEntry(entry *mdns.ServiceEntry) *Service {
	if entry.AddrV4 == nil {
		return nil
	}

	svc := &Service{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: "/trace",
	}
	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			svc.Path = value
		case "version":
			svc.Version = value
		}
	}
	return svc
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
