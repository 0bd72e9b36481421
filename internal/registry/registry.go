// SPDX-License-Identifier: Apache-2.0

// Package registry maps service names onto their base addresses. The registry
// is built once per process from configuration and never mutated afterwards.
package registry

import (
	"fmt"
	"strings"

	"github.com/finalyze/analysis-runtime/internal/config"
)

// Well-known service names.
const (
	ServiceDocument   = "document"
	ServiceCompliance = "compliance"
	ServiceMarket     = "market"
	ServiceReporting  = "reporting"
	ServiceReasoning  = "reasoning"
)

type ServiceRegistry struct {
	addrs map[string]string
}

// FromConfig builds the registry from the configured base addresses. Every
// service the pipeline can reach must be present; an empty address is a
// configuration error surfaced before any run starts.
func FromConfig(cfg config.Config) (*ServiceRegistry, error) {
	addrs := map[string]string{
		ServiceDocument:   cfg.DocumentServiceURL,
		ServiceCompliance: cfg.ComplianceServiceURL,
		ServiceMarket:     cfg.MarketServiceURL,
		ServiceReporting:  cfg.ReportingServiceURL,
		ServiceReasoning:  cfg.ReasoningServiceURL,
	}
	for name, addr := range addrs {
		if strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("missing base address for service %q", name)
		}
		addrs[name] = strings.TrimRight(addr, "/")
	}
	return &ServiceRegistry{addrs: addrs}, nil
}

// New builds a registry from an explicit service -> base URL map. Used by
// tests and the one-shot runner.
func New(addrs map[string]string) *ServiceRegistry {
	copied := make(map[string]string, len(addrs))
	for name, addr := range addrs {
		copied[name] = strings.TrimRight(addr, "/")
	}
	return &ServiceRegistry{addrs: copied}
}

// BaseURL resolves a service name. Unknown names fail, they are never guessed.
func (r *ServiceRegistry) BaseURL(service string) (string, error) {
	addr, ok := r.addrs[service]
	if !ok {
		return "", fmt.Errorf("unknown service %q", service)
	}
	return addr, nil
}

// Services lists the registered service names.
func (r *ServiceRegistry) Services() []string {
	names := make([]string, 0, len(r.addrs))
	for name := range r.addrs {
		names = append(names, name)
	}
	return names
}
