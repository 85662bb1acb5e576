// Package arn parses the Personalize ARNs the monitor works with.
package arn

import (
	"fmt"
	"strings"

	"github.com/opscart/personalize-monitor/pkg/models"
)

// ARN is a parsed Personalize resource ARN
type ARN struct {
	Partition    string
	Service      string
	Region       string
	AccountID    string
	ResourceType string
	ResourceName string
}

// Parse splits a Personalize ARN into its parts
func Parse(s string) (*ARN, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 || parts[0] != "arn" {
		return nil, fmt.Errorf("malformed ARN: %q", s)
	}
	if parts[2] != "personalize" {
		return nil, fmt.Errorf("not a personalize ARN: %q", s)
	}
	if parts[3] == "" {
		return nil, fmt.Errorf("ARN has no region: %q", s)
	}

	resourceType, name, ok := strings.Cut(parts[5], "/")
	if !ok || resourceType == "" || name == "" {
		return nil, fmt.Errorf("ARN has no resource name: %q", s)
	}

	return &ARN{
		Partition:    parts[1],
		Service:      parts[2],
		Region:       parts[3],
		AccountID:    parts[4],
		ResourceType: resourceType,
		ResourceName: name,
	}, nil
}

// Kind maps the ARN resource type onto a monitored resource kind
func (a *ARN) Kind() (models.ResourceKind, error) {
	switch a.ResourceType {
	case "campaign":
		return models.KindCampaign, nil
	case "recommender":
		return models.KindRecommender, nil
	}
	return "", fmt.Errorf("unsupported resource type %q", a.ResourceType)
}

func (a *ARN) String() string {
	return fmt.Sprintf("arn:%s:%s:%s:%s:%s/%s",
		a.Partition, a.Service, a.Region, a.AccountID, a.ResourceType, a.ResourceName)
}

// Region is a shortcut for Parse(s).Region that returns "" for bad input
func Region(s string) string {
	a, err := Parse(s)
	if err != nil {
		return ""
	}
	return a.Region
}

// ResourceName returns the name segment of s, or s itself if it does not parse
func ResourceName(s string) string {
	a, err := Parse(s)
	if err != nil {
		return s
	}
	return a.ResourceName
}
