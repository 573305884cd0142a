package chainutils

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const DefaultIPService = "https://api.ipify.org"

// GetExternalIP queries a public IP service and returns the external IPv4 address as net.IP
func GetExternalIP(ctx context.Context, service string) (net.IP, error) {
	if service == "" {
		service = DefaultIPService
	}
	resp, err := resty.New().SetTimeout(5 * time.Second).R().SetContext(ctx).Get(service)
	if err != nil {
		log.Error().Err(err).Msg("failed to query external IP")
		return nil, fmt.Errorf("query external ip: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("query external ip: status %d", resp.StatusCode())
	}

	ipStr := strings.TrimSpace(resp.String())
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("invalid ip returned: %s", ipStr)
	}
	ip = ip.To4()
	if ip == nil {
		return nil, fmt.Errorf("non-ipv4 address returned: %s", ipStr)
	}

	return ip, nil
}

// ResolveEndpointURL returns publicURL when set, otherwise http://host:port,
// substituting the external IP when host is a wildcard bind address.
func ResolveEndpointURL(ctx context.Context, publicURL, host string, port int, service string) (string, error) {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/"), nil
	}
	if host == "" || host == "0.0.0.0" {
		ip, err := GetExternalIP(ctx, service)
		if err != nil {
			return "", err
		}
		host = ip.String()
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port))), nil
}
