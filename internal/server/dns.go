package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/client"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/types"
)

// DroneLookup resolves a drone id. A *client.Error reply means the drone
// does not exist.
type DroneLookup interface {
	Drone(id string) (*types.DroneRow, error)
}

// DNSServer answers queries for <drone-id>.<domain> from the drone registry:
// A and AAAA return the drone's reported address, TXT its role and name.
type DNSServer struct {
	Lookup DroneLookup
	Domain string
	TTL    time.Duration
	Logger *zap.Logger

	cache     *expirable.LRU[string, types.DroneRow]
	udpServer *dns.Server
	tcpServer *dns.Server
}

// NewDNSServer builds a directory server caching lookups for ttl.
func NewDNSServer(lookup DroneLookup, domain string, ttl time.Duration, logger *zap.Logger) *DNSServer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DNSServer{
		Lookup: lookup,
		Domain: strings.ToLower(strings.TrimSuffix(domain, ".")),
		TTL:    ttl,
		Logger: logger,
		cache:  expirable.NewLRU[string, types.DroneRow](1024, nil, ttl),
	}
}

// Start begins listening for DNS queries on the given port over UDP and TCP.
func (s *DNSServer) Start(port int) error {
	handler := dns.HandlerFunc(s.handleDNS)
	addr := fmt.Sprintf(":%d", port)

	s.udpServer = &dns.Server{Addr: addr, Net: "udp", Handler: handler}
	s.tcpServer = &dns.Server{Addr: addr, Net: "tcp", Handler: handler}

	errCh := make(chan error, 2)
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		go func(srv *dns.Server) {
			s.Logger.Info("starting dns server", logging.Net(srv.Net), logging.Port(port))
			if err := srv.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("%s dns server: %w", srv.Net, err)
			}
		}(srv)
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully stops the DNS servers.
func (s *DNSServer) Shutdown(ctx context.Context) {
	for _, srv := range []*dns.Server{s.udpServer, s.tcpServer} {
		if srv == nil {
			continue
		}
		if err := srv.ShutdownContext(ctx); err != nil {
			s.Logger.Warn("dns shutdown error", logging.Net(srv.Net), zap.Error(err))
		}
	}
}

func (s *DNSServer) handleDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	remoteIP, _ := parseRemoteAddr(w.RemoteAddr())
	ttl := uint32(s.TTL / time.Second)

	for _, q := range r.Question {
		qname := strings.ToLower(strings.TrimSuffix(q.Name, "."))

		if qname == s.Domain {
			switch q.Qtype {
			case dns.TypeSOA:
				m.Answer = append(m.Answer, s.soa())
			case dns.TypeNS:
				m.Answer = append(m.Answer, &dns.NS{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 300},
					Ns:  "ns1." + s.Domain + ".",
				})
			}
			continue
		}

		id := droneIDFromQName(qname, s.Domain)
		if id == "" {
			m.Rcode = dns.RcodeNameError
			continue
		}

		drone, err := s.lookup(id)
		if err != nil {
			var cerr *client.Error
			if errors.As(err, &cerr) {
				m.Rcode = dns.RcodeNameError
				m.Ns = append(m.Ns, s.soa())
			} else {
				s.Logger.Warn("drone lookup failed", logging.DroneID(id), zap.Error(err))
				m.Rcode = dns.RcodeServerFailure
			}
			continue
		}

		hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: ttl}
		ip := net.ParseIP(drone.IPAddress)
		switch q.Qtype {
		case dns.TypeA:
			if ip4 := ip.To4(); ip4 != nil {
				m.Answer = append(m.Answer, &dns.A{Hdr: hdr, A: ip4})
			}
		case dns.TypeAAAA:
			if ip != nil && ip.To4() == nil {
				m.Answer = append(m.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
			}
		case dns.TypeTXT:
			m.Answer = append(m.Answer, &dns.TXT{Hdr: hdr, Txt: []string{
				"type=" + drone.Type,
				"name=" + drone.Name,
			}})
		}

		s.Logger.Debug("dns query",
			logging.QName(qname),
			logging.QType(dns.TypeToString[q.Qtype]),
			logging.RemoteIP(remoteIP),
			logging.DroneID(id))
	}

	if err := w.WriteMsg(m); err != nil {
		s.Logger.Debug("failed to write DNS response", zap.Error(err))
	}
}

func (s *DNSServer) lookup(id string) (types.DroneRow, error) {
	if row, ok := s.cache.Get(id); ok {
		return row, nil
	}
	row, err := s.Lookup.Drone(id)
	if err != nil {
		return types.DroneRow{}, err
	}
	s.cache.Add(id, *row)
	return *row, nil
}

func (s *DNSServer) soa() dns.RR {
	return &dns.SOA{
		Hdr:     dns.RR_Header{Name: s.Domain + ".", Rrtype: dns.TypeSOA, Class: dns.ClassINET, Ttl: 300},
		Ns:      "ns1." + s.Domain + ".",
		Mbox:    "hostmaster." + s.Domain + ".",
		Serial:  1,
		Refresh: 3600,
		Retry:   600,
		Expire:  604800,
		Minttl:  30,
	}
}

// droneIDFromQName returns the label directly under domain, or "" if qname
// is not exactly one label below it.
func droneIDFromQName(qname, domain string) string {
	domain = strings.ToLower(domain)
	if !strings.HasSuffix(qname, "."+domain) {
		return ""
	}
	label := strings.TrimSuffix(qname, "."+domain)
	if label == "" || strings.Contains(label, ".") {
		return ""
	}
	return label
}

func parseRemoteAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case nil:
		return "", 0
	default:
		return addr.String(), 0
	}
}
