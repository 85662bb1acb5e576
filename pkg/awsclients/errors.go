package awsclients

import (
	"errors"

	"github.com/aws/smithy-go"
)

var throttleCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"RequestThrottledException":              true,
	"TooManyRequestsException":               true,
	"LimitExceededException":                 true,
	"RequestLimitExceeded":                   true,
	"ProvisionedThroughputExceededException": true,
}

// ErrorCode returns the API error code of err, or "" if it is not an API error
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsThrottle reports whether err is a throttling error. Errors returned after
// the retryer gave up wrap the last attempt's error, so they classify too.
func IsThrottle(err error) bool {
	return throttleCodes[ErrorCode(err)]
}

// IsNotFound reports whether err means the resource does not exist
func IsNotFound(err error) bool {
	switch ErrorCode(err) {
	case "ResourceNotFoundException", "ResourceNotFound", "NotFound", "NotFoundException":
		return true
	}
	return false
}

// IsAccessDenied reports whether err is an authorization failure
func IsAccessDenied(err error) bool {
	switch ErrorCode(err) {
	case "AccessDeniedException", "AccessDenied", "UnauthorizedOperation", "AuthorizationError":
		return true
	}
	return false
}
