package chaos

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FaultKind names one of the supported fault types.
type FaultKind string

const (
	KindCPUStress      FaultKind = "cpu_stress"
	KindMemoryStress   FaultKind = "memory_stress"
	KindNetworkLatency FaultKind = "network_latency"
	KindServiceKill    FaultKind = "service_kill"
	KindDiskFill       FaultKind = "disk_fill"
	KindProcessHang    FaultKind = "process_hang"
)

// Kinds lists every supported kind in a stable order.
var Kinds = []FaultKind{
	KindCPUStress,
	KindMemoryStress,
	KindNetworkLatency,
	KindServiceKill,
	KindDiskFill,
	KindProcessHang,
}

func ParseFaultKind(s string) (FaultKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", invalidSpec("unknown fault kind %q", s)
}

type paramType int

const (
	paramPositiveInt paramType = iota
	paramString
)

type paramDef struct {
	typ        paramType
	defaultVal interface{}
}

// parameterSchema lists the parameters each kind accepts. Anything else is rejected.
var parameterSchema = map[FaultKind]map[string]paramDef{
	KindCPUStress:      {"cores": {paramPositiveInt, 2}},
	KindMemoryStress:   {"mb": {paramPositiveInt, 100}},
	KindNetworkLatency: {"latency_ms": {paramPositiveInt, 1000}},
	KindServiceKill:    {},
	KindDiskFill:       {"size_mb": {paramPositiveInt, 10}, "path": {paramString, nil}},
	KindProcessHang:    {},
}

// targetRequired marks kinds that act on a named service rather than the host.
var targetRequired = map[FaultKind]bool{
	KindNetworkLatency: true,
	KindServiceKill:    true,
}

// FaultSpec describes one fault. It is immutable once registered; parameter
// maps are copied in and out.
type FaultSpec struct {
	Name        string
	Kind        FaultKind
	Duration    time.Duration
	Probability float64
	Weight      float64
	Target      string
	Parameters  map[string]interface{}
}

// NewFaultSpec validates the definition and fills in parameter defaults.
func NewFaultSpec(name string, kind FaultKind, duration time.Duration, probability float64, target string, params map[string]interface{}) (FaultSpec, error) {
	spec := FaultSpec{
		Name:        name,
		Kind:        kind,
		Duration:    duration,
		Probability: probability,
		Target:      target,
		Parameters:  params,
	}
	return spec.normalize()
}

// normalize returns a validated copy with defaults applied and parameters coerced.
func (s FaultSpec) normalize() (FaultSpec, error) {
	if s.Name == "" {
		return FaultSpec{}, invalidSpec("name is required")
	}
	schema, ok := parameterSchema[s.Kind]
	if !ok {
		return FaultSpec{}, invalidSpec("%s: unknown fault kind %q", s.Name, s.Kind)
	}
	if s.Duration <= 0 {
		return FaultSpec{}, invalidSpec("%s: duration must be positive", s.Name)
	}
	if math.IsNaN(s.Probability) || s.Probability < 0 || s.Probability > 1 {
		return FaultSpec{}, invalidSpec("%s: probability %v outside [0, 1]", s.Name, s.Probability)
	}
	if s.Weight < 0 || math.IsNaN(s.Weight) {
		return FaultSpec{}, invalidSpec("%s: weight cannot be negative", s.Name)
	}
	if s.Weight == 0 {
		s.Weight = 1
	}
	if targetRequired[s.Kind] && s.Target == "" {
		return FaultSpec{}, invalidSpec("%s: %s requires a target", s.Name, s.Kind)
	}

	params := make(map[string]interface{}, len(schema))
	for key, value := range s.Parameters {
		def, known := schema[key]
		if !known {
			return FaultSpec{}, invalidSpec("%s: unknown parameter %q for %s", s.Name, key, s.Kind)
		}
		switch def.typ {
		case paramPositiveInt:
			n, err := toInt(value)
			if err != nil {
				return FaultSpec{}, invalidSpec("%s: parameter %s: %v", s.Name, key, err)
			}
			if n < 1 {
				return FaultSpec{}, invalidSpec("%s: parameter %s must be at least 1, got %d", s.Name, key, n)
			}
			params[key] = n
		case paramString:
			str, ok := value.(string)
			if !ok || str == "" {
				return FaultSpec{}, invalidSpec("%s: parameter %s must be a non-empty string", s.Name, key)
			}
			params[key] = str
		}
	}
	for key, def := range schema {
		if _, set := params[key]; !set && def.defaultVal != nil {
			params[key] = def.defaultVal
		}
	}
	s.Parameters = params
	return s, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

// IntParam returns a normalized integer parameter.
func (s FaultSpec) IntParam(key string) int {
	n, _ := s.Parameters[key].(int)
	return n
}

// StringParam returns a string parameter or "" when unset.
func (s FaultSpec) StringParam(key string) string {
	str, _ := s.Parameters[key].(string)
	return str
}

func (s FaultSpec) clone() FaultSpec {
	params := make(map[string]interface{}, len(s.Parameters))
	for k, v := range s.Parameters {
		params[k] = v
	}
	s.Parameters = params
	return s
}

// TargetKey is the key used for per-target exclusion. Host-local faults share "".
func (s FaultSpec) TargetKey() string {
	return s.Target
}

func (s FaultSpec) String() string {
	if s.Target == "" {
		return fmt.Sprintf("%s(%s, %v)", s.Name, s.Kind, s.Duration)
	}
	return fmt.Sprintf("%s(%s -> %s, %v)", s.Name, s.Kind, s.Target, s.Duration)
}
