// Package discovery advertises relays on the local network over mDNS and
// finds them again, so peers on a LAN can sync without configuring a URL.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	DefaultService = "_jsoncrdt._tcp"
	DefaultDomain  = "local."

	// protoTXT marks entries that speak the jsoncrdt relay protocol.
	protoTXT = "proto=jsoncrdt-relay"
)

// Relay is a relay found on the network.
type Relay struct {
	Instance string
	Host     string
	Port     int
}

// URL returns the relay's WebSocket base URL; append "/<room>" to join.
func (r Relay) URL() string {
	return "ws://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type options struct {
	service string
	domain  string
	logger  *slog.Logger
}

// Option configures Advertise and Browse.
type Option func(*options)

// WithService overrides the DNS-SD service type. Default: DefaultService.
func WithService(service string) Option {
	return func(o *options) {
		if service != "" {
			o.service = service
		}
	}
}

// WithDomain overrides the browse domain. Default: DefaultDomain.
func WithDomain(domain string) Option {
	return func(o *options) {
		if domain != "" {
			o.domain = domain
		}
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		service: DefaultService,
		domain:  DefaultDomain,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Advertisement is a running mDNS registration.
type Advertisement struct {
	server *zeroconf.Server
}

// Shutdown withdraws the advertisement.
func (a *Advertisement) Shutdown() {
	a.server.Shutdown()
}

// Advertise announces a relay listening on port under the given instance
// name until Shutdown.
func Advertise(instance string, port int, opts ...Option) (*Advertisement, error) {
	o := buildOptions(opts)
	server, err := zeroconf.Register(instance, o.service, o.domain, port, []string{"txtvers=1", protoTXT}, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise %s: %w", instance, err)
	}
	o.logger.Info("relay advertised", "instance", instance, "service", o.service, "port", port)
	return &Advertisement{server: server}, nil
}

// Browse reports relays as they are found until ctx is done. Entries that
// do not carry the relay protocol marker are skipped. found runs on a
// separate goroutine and may be called shortly after Browse returns.
func Browse(ctx context.Context, found func(Relay), opts ...Option) error {
	o := buildOptions(opts)
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("browse: resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			relay, ok := relayFromEntry(entry)
			if !ok {
				o.logger.Debug("skipped mDNS entry", "instance", entry.Instance)
				continue
			}
			o.logger.Debug("relay discovered", "instance", relay.Instance, "url", relay.URL())
			found(relay)
		}
	}()

	if err := resolver.Browse(ctx, o.service, o.domain, entries); err != nil {
		return fmt.Errorf("browse %s: %w", o.service, err)
	}
	<-ctx.Done()
	return nil
}

// First browses until one relay is found or ctx is done.
func First(ctx context.Context, opts ...Option) (Relay, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan Relay, 1)
	err := Browse(ctx, func(r Relay) {
		select {
		case result <- r:
			cancel()
		default:
		}
	}, opts...)
	if err != nil {
		return Relay{}, err
	}
	select {
	case r := <-result:
		return r, nil
	default:
		return Relay{}, fmt.Errorf("no relay found: %w", context.Cause(ctx))
	}
}

// relayFromEntry picks an address for entry, preferring IPv4.
func relayFromEntry(entry *zeroconf.ServiceEntry) (Relay, bool) {
	if entry == nil || entry.Port <= 0 || !hasTXT(entry.Text, protoTXT) {
		return Relay{}, false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return Relay{}, false
	}
	return Relay{Instance: entry.Instance, Host: host, Port: entry.Port}, true
}

func hasTXT(records []string, want string) bool {
	for _, r := range records {
		if r == want {
			return true
		}
	}
	return false
}
