package models

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrKindDiscovery          ErrorKind = "DiscoveryError"
	ErrKindResourceLookup     ErrorKind = "ResourceLookupError"
	ErrKindMetricsUnavailable ErrorKind = "MetricsUnavailable"
	ErrKindAlarmStore         ErrorKind = "AlarmStoreError"
	ErrKindEventPublish       ErrorKind = "EventPublishError"
	ErrKindConfig             ErrorKind = "ConfigError"
	ErrKindUnknown            ErrorKind = "Unknown"
)

// DiscoveryError means a whole region could not be enumerated
type DiscoveryError struct {
	Region string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed in region %s: %v", e.Region, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ResourceLookupError means one configured resource could not be described
type ResourceLookupError struct {
	ARN string
	Err error
}

func (e *ResourceLookupError) Error() string {
	return fmt.Sprintf("lookup failed for %s: %v", e.ARN, e.Err)
}

func (e *ResourceLookupError) Unwrap() error { return e.Err }

// MetricsUnavailableError means the metric source failed or timed out for a resource
type MetricsUnavailableError struct {
	ARN string
	Err error
}

func (e *MetricsUnavailableError) Error() string {
	return fmt.Sprintf("metrics unavailable for %s: %v", e.ARN, e.Err)
}

func (e *MetricsUnavailableError) Unwrap() error { return e.Err }

// AlarmStoreError is a failed alarm read or write
type AlarmStoreError struct {
	ARN   string
	Alarm string
	Err   error
}

func (e *AlarmStoreError) Error() string {
	if e.Alarm != "" {
		return fmt.Sprintf("alarm store error for %s (%s): %v", e.ARN, e.Alarm, e.Err)
	}
	return fmt.Sprintf("alarm store error for %s: %v", e.ARN, e.Err)
}

func (e *AlarmStoreError) Unwrap() error { return e.Err }

// EventPublishError is an event the bus did not accept
type EventPublishError struct {
	ARN        string
	DetailType string
	Err        error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("failed to publish %s for %s: %v", e.DetailType, e.ARN, e.Err)
}

func (e *EventPublishError) Unwrap() error { return e.Err }

// ConfigError is the only error that aborts a pass
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// KindOf classifies err into the pass error taxonomy
func KindOf(err error) ErrorKind {
	var (
		discovery *DiscoveryError
		lookup    *ResourceLookupError
		metrics   *MetricsUnavailableError
		alarm     *AlarmStoreError
		publish   *EventPublishError
		cfg       *ConfigError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfg):
		return ErrKindConfig
	case errors.As(err, &discovery):
		return ErrKindDiscovery
	case errors.As(err, &lookup):
		return ErrKindResourceLookup
	case errors.As(err, &metrics):
		return ErrKindMetricsUnavailable
	case errors.As(err, &alarm):
		return ErrKindAlarmStore
	case errors.As(err, &publish):
		return ErrKindEventPublish
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrKindMetricsUnavailable
	}
	return ErrKindUnknown
}
