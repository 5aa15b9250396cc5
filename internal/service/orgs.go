// Package service provides the request-path business logic for Parley.
package service

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrOrganizationNotFound indicates no organization serves the domain.
var ErrOrganizationNotFound = errors.New("organization not found")

// Organization is a tenant of the chat backend. Onboarding lives outside
// this service; the directory is loaded from a YAML file at startup.
type Organization struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Domains      []string `yaml:"domains"`
	SystemPrompt string   `yaml:"system_prompt"`
}

// OrgDirectory resolves organizations by serving domain.
type OrgDirectory struct {
	byDomain map[string]*Organization
}

type orgFile struct {
	Organizations []Organization `yaml:"organizations"`
}

// LoadOrgDirectory reads the organization directory from a YAML file.
func LoadOrgDirectory(path string) (*OrgDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organization file: %w", err)
	}

	var file orgFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse organization file %s: %w", path, err)
	}

	return NewOrgDirectory(file.Organizations)
}

// NewOrgDirectory builds a directory from organizations (used by tests).
func NewOrgDirectory(orgs []Organization) (*OrgDirectory, error) {
	byDomain := make(map[string]*Organization)
	for i := range orgs {
		org := &orgs[i]
		if org.ID == "" {
			return nil, fmt.Errorf("organization %q has no id", org.Name)
		}
		for _, domain := range org.Domains {
			domain = strings.ToLower(domain)
			if other, ok := byDomain[domain]; ok {
				return nil, fmt.Errorf("domain %s claimed by both %s and %s", domain, other.ID, org.ID)
			}
			byDomain[domain] = org
		}
	}
	return &OrgDirectory{byDomain: byDomain}, nil
}

// ResolveDomain returns the organization serving a domain.
func (d *OrgDirectory) ResolveDomain(domain string) (*Organization, error) {
	org, ok := d.byDomain[strings.ToLower(domain)]
	if !ok {
		return nil, fmt.Errorf("%w: domain %s", ErrOrganizationNotFound, domain)
	}
	return org, nil
}

// Len returns the number of registered domains.
func (d *OrgDirectory) Len() int {
	return len(d.byDomain)
}
