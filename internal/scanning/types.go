package scanning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/tracerama/internal/errors"
)

const (
	// Port validation constants.
	minPort                = 1
	maxPort                = 65535
	maxPortRangeSize       = 100
	expectedPortRangeParts = 2

	// Request defaults.
	DefaultPort    = 80
	DefaultMaxHops = 30
	DefaultTimeout = 30 * time.Second
)

// Protocol is the transport used for traceroute probes.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ParseProtocol converts a user supplied protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolTCP, ProtocolUDP:
		return p, nil
	default:
		return "", errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("unsupported protocol %q (want tcp or udp)", s), "protocol", s)
	}
}

// OutputFormat selects which scanner output the parser consumes.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatXML  OutputFormat = "xml"
)

// Request describes one traceroute invocation.
type Request struct {
	Target       string        `json:"target" validate:"required,max=253"`
	Port         int           `json:"port" validate:"min=1,max=65535"`
	Protocol     Protocol      `json:"protocol" validate:"oneof=tcp udp"`
	MaxHops      int           `json:"max_hops" validate:"gt=0,max=255"`
	Timeout      time.Duration `json:"timeout" validate:"gt=0"`
	ExtraArgs    []string      `json:"extra_args,omitempty"`
	Verbose      bool          `json:"verbose,omitempty"`
	OutputFormat OutputFormat  `json:"output_format,omitempty" validate:"omitempty,oneof=text xml"`
}

// NewRequest returns a request for target with the default port, protocol,
// hop limit and timeout.
func NewRequest(target string) Request {
	return Request{
		Target:   target,
		Port:     DefaultPort,
		Protocol: ProtocolTCP,
		MaxHops:  DefaultMaxHops,
		Timeout:  DefaultTimeout,
	}
}

// Key returns the single-flight key of the request.
func (r Request) Key() Key {
	return Key{Target: r.Target, Port: r.Port, Protocol: r.Protocol}
}

// Key identifies a (target, port, protocol) triple.
type Key struct {
	Target   string   `json:"target"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// String renders the key as target:port/protocol.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d/%s", k.Target, k.Port, k.Protocol)
}

// Output is the raw result of one scanner invocation.
type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	StartedAt time.Time
	Duration  time.Duration
}

// HopStatus classifies a hop.
type HopStatus string

const (
	HopSuccess     HopStatus = "success"
	HopTimeout     HopStatus = "timeout"
	HopUnreachable HopStatus = "unreachable"
)

// RTTValue is an optional round-trip time in milliseconds. The zero value
// means no measurement.
type RTTValue struct {
	Ms    float64
	Valid bool
}

// SomeRTT returns a present RTT.
func SomeRTT(ms float64) RTTValue {
	return RTTValue{Ms: ms, Valid: true}
}

// String formats the value for display, "-" when absent.
func (v RTTValue) String() string {
	if !v.Valid {
		return "-"
	}
	return strconv.FormatFloat(v.Ms, 'f', 2, 64)
}

// MarshalJSON encodes an absent value as null.
func (v RTTValue) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Ms)
}

// UnmarshalJSON accepts a number or null.
func (v *RTTValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = RTTValue{}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*v = SomeRTT(ms)
	return nil
}

// MarshalYAML encodes an absent value as null.
func (v RTTValue) MarshalYAML() (interface{}, error) {
	if !v.Valid {
		return nil, nil
	}
	return v.Ms, nil
}

// Hop is one relay point reported along the path.
type Hop struct {
	Number   int       `json:"hop" yaml:"hop"`
	Address  string    `json:"address,omitempty" yaml:"address,omitempty"`
	Hostname string    `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	RTT      RTTValue  `json:"rtt_ms" yaml:"rtt_ms" swaggertype:"number"`
	Status   HopStatus `json:"status" yaml:"status"`
}

// hopStatus derives the status from the presence of an address and RTT.
func hopStatus(address string, rtt RTTValue) HopStatus {
	switch {
	case address == "":
		return HopTimeout
	case !rtt.Valid:
		return HopUnreachable
	default:
		return HopSuccess
	}
}

// ExitStatus records how the scanner process ended.
type ExitStatus struct {
	Success    bool   `json:"success" yaml:"success"`
	Code       int    `json:"code" yaml:"code"`
	Diagnostic string `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty"`
}

// Summary holds the scanner's own run summary.
type Summary struct {
	HostsUp int           `json:"hosts_up" yaml:"hosts_up"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed" swaggertype:"integer"`
}

// ScanResult is the outcome of one scan against one key. Values are built
// by the parser (or NewFailedResult) and must not be modified afterwards;
// copying helpers return new values.
type ScanResult struct {
	ID              string           `json:"id" yaml:"id"`
	Target          string           `json:"target" yaml:"target"`
	Port            int              `json:"port" yaml:"port"`
	Protocol        Protocol         `json:"protocol" yaml:"protocol"`
	Hops            []Hop            `json:"hops" yaml:"hops"`
	ResolvedAddress string           `json:"resolved_address,omitempty" yaml:"resolved_address,omitempty"`
	TargetReached   bool             `json:"target_reached" yaml:"target_reached"`
	TraceProbe      string           `json:"trace_probe,omitempty" yaml:"trace_probe,omitempty"`
	StartedAt       time.Time        `json:"started_at" yaml:"started_at"`
	Duration        time.Duration    `json:"duration" yaml:"duration" swaggertype:"integer"`
	Exit            ExitStatus       `json:"exit" yaml:"exit"`
	Summary         Summary          `json:"summary" yaml:"summary"`
	Failure         errors.ErrorCode `json:"failure,omitempty" yaml:"failure,omitempty"`
}

// NewFailedResult builds the failed-entry variant for a request whose
// invocation or parse failed.
func NewFailedResult(id string, req Request, startedAt time.Time, duration time.Duration, err error) *ScanResult {
	diagnostic := ""
	exitCode := -1
	if err != nil {
		diagnostic = err.Error()
	}
	if se, ok := asScanError(err); ok && se.Code == errors.CodeNonZeroExit {
		exitCode = se.ExitCode
	}
	return &ScanResult{
		ID:        id,
		Target:    req.Target,
		Port:      req.Port,
		Protocol:  req.Protocol,
		Hops:      []Hop{},
		StartedAt: startedAt,
		Duration:  duration,
		Exit: ExitStatus{
			Success:    false,
			Code:       exitCode,
			Diagnostic: diagnostic,
		},
		Failure: errors.GetCode(err),
	}
}

// Key returns the (target, port, protocol) key of the result.
func (r *ScanResult) Key() Key {
	return Key{Target: r.Target, Port: r.Port, Protocol: r.Protocol}
}

// Failed reports whether the result represents a failed invocation.
func (r *ScanResult) Failed() bool {
	return !r.Exit.Success
}

// LastHop returns the final hop, if any.
func (r *ScanResult) LastHop() (Hop, bool) {
	if len(r.Hops) == 0 {
		return Hop{}, false
	}
	return r.Hops[len(r.Hops)-1], true
}

// HopAddresses returns the address sequence of the route, "*" for hops
// without an address.
func (r *ScanResult) HopAddresses() []string {
	addrs := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		if h.Address == "" {
			addrs[i] = "*"
			continue
		}
		addrs[i] = h.Address
	}
	return addrs
}

// WithHostnames returns a copy of the result with hostnames filled in for
// hops whose address appears in names and that have no hostname yet.
func (r *ScanResult) WithHostnames(names map[string]string) *ScanResult {
	out := *r
	out.Hops = make([]Hop, len(r.Hops))
	copy(out.Hops, r.Hops)
	for i := range out.Hops {
		if out.Hops[i].Hostname != "" || out.Hops[i].Address == "" {
			continue
		}
		if name, ok := names[out.Hops[i].Address]; ok {
			out.Hops[i].Hostname = name
		}
	}
	return &out
}

// ParsePorts parses a port specification such as "80,443,8000-8002" into a
// sorted, deduplicated list. A single range may span at most 100 ports.
func ParsePorts(list string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			if err := parsePortRange(part, seen); err != nil {
				return nil, err
			}
			continue
		}
		port, err := parseSinglePort(part)
		if err != nil {
			return nil, err
		}
		seen[port] = struct{}{}
	}

	if len(seen) == 0 {
		return nil, errors.NewConfigFieldError(errors.CodeValidation, "no ports specified", "ports", list)
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

func parsePortRange(part string, seen map[int]struct{}) error {
	rangeParts := strings.Split(part, "-")
	if len(rangeParts) != expectedPortRangeParts {
		return errors.NewConfigFieldError(errors.CodeValidation, "invalid port range format: "+part, "ports", part)
	}
	start, err := parseSinglePort(rangeParts[0])
	if err != nil {
		return err
	}
	end, err := parseSinglePort(rangeParts[1])
	if err != nil {
		return err
	}
	if start > end {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid port range %s: start port must not exceed end port", part), "ports", part)
	}
	if end-start+1 > maxPortRangeSize {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("port range %s too large (max %d ports)", part, maxPortRangeSize), "ports", part)
	}
	for p := start; p <= end; p++ {
		seen[p] = struct{}{}
	}
	return nil
}

func parseSinglePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.NewConfigFieldError(errors.CodeValidation, "invalid port: "+s, "ports", s)
	}
	if port < minPort || port > maxPort {
		return 0, errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid port: %d (must be %d-%d)", port, minPort, maxPort), "ports", s)
	}
	return port, nil
}
