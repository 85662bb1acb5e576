package models

// ApplicationName prefixes every alarm, rule and topic owned by the monitor
const ApplicationName = "PersonalizeMonitor"

// AlarmNamePrefix is how alarms owned by the monitor are listed
const AlarmNamePrefix = ApplicationName + "-"

// Ownership tag set on every alarm the monitor creates
const (
	OwnerTagKey   = "CreatedBy"
	OwnerTagValue = ApplicationName
)

type AlarmKind string

const (
	AlarmIdle        AlarmKind = "Idle"
	AlarmUtilization AlarmKind = "Utilization"
)

type AlarmState string

const (
	AlarmStateOK    AlarmState = "OK"
	AlarmStateAlarm AlarmState = "ALARM"
)

// Alarm comparison operators and missing-data treatments
const (
	CompareLessThan          = "LessThanThreshold"
	CompareLessThanOrEqualTo = "LessThanOrEqualToThreshold"
	MissingDataMissing       = "missing"
	MissingDataBreaching     = "breaching"
)

// AlarmSpec describes the desired alarm of one kind for one resource
type AlarmSpec struct {
	Name              string
	Kind              AlarmKind
	ResourceKind      ResourceKind
	ResourceARN       string
	Region            string
	Description       string
	Namespace         string
	MetricName        string
	Dimension         string
	Statistic         string
	PeriodSeconds     int32
	EvaluationPeriods int32
	DatapointsToAlarm int32
	Threshold         float64
	Comparison        string
	TreatMissingData  string
	ActionsEnabled    bool
	ActionARNs        []string
	Tags              map[string]string
}

// ExistingAlarm is an alarm found in the alarm store
type ExistingAlarm struct {
	Name           string
	ARN            string
	Comparison     string
	Threshold      float64
	ActionsEnabled bool
	AlarmActions   []string
	Dimensions     map[string]string
	Tags           map[string]string
}
