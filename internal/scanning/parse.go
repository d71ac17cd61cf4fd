package scanning

import (
	"bufio"
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/tracerama/internal/errors"
)

var (
	sectionRe   = regexp.MustCompile(`^TRACEROUTE(?:\s+\(using (?:port|proto) ([^)\s]+)\))?`)
	anySection  = regexp.MustCompile(`(?m)^\s*TRACEROUTE`)
	hopHeaderRe = regexp.MustCompile(`^HOP\s+RTT\s+ADDRESS$`)
	numberedRe  = regexp.MustCompile(`^\d+(?:\s|$)`)
	hopLineRe   = regexp.MustCompile(`^(\d+)\s+(.+)$`)
	hopRangeRe  = regexp.MustCompile(`^\.\.\.\s+(\d+)$`)
	hopReplyRe  = regexp.MustCompile(`^(?:(\d+(?:\.\d+)?)\s*ms|--)\s+(\S+)(?:\s+\(([^()\s]+)\))?$`)
	reportRe    = regexp.MustCompile(`^Nmap scan report for (\S+)(?:\s+\(([^()\s]+)\))?`)
	doneRe      = regexp.MustCompile(`^Nmap done: \d+ IP address(?:es)? \((\d+) hosts? up\) scanned in (\d+(?:\.\d+)?) seconds`)
)

// IDGenerator produces scan result identifiers.
type IDGenerator func() string

// Parser turns raw scanner output into ScanResult values. It holds no
// mutable state and is safe for concurrent use.
type Parser struct {
	newID IDGenerator
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithIDGenerator replaces the default UUID generator.
func WithIDGenerator(gen IDGenerator) ParserOption {
	return func(p *Parser) {
		if gen != nil {
			p.newID = gen
		}
	}
}

// NewParser creates a Parser.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{newID: uuid.NewString}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Parse parses out with the default parser.
func Parse(out Output, req Request) (*ScanResult, error) {
	return defaultParser.Parse(out, req)
}

// NewID returns a fresh identifier from the parser's generator.
func (p *Parser) NewID() string {
	return p.newID()
}

// Parse builds a ScanResult from one invocation's output. It fails with
// MALFORMED_OUTPUT when a numbered line inside the traceroute section does
// not match the hop grammar or hop numbers are not strictly increasing.
func (p *Parser) Parse(out Output, req Request) (*ScanResult, error) {
	result := &ScanResult{
		ID:        p.newID(),
		Target:    req.Target,
		Port:      req.Port,
		Protocol:  req.Protocol,
		Hops:      []Hop{},
		StartedAt: out.StartedAt,
		Duration:  out.Duration,
		Exit: ExitStatus{
			Success:    out.ExitCode == 0,
			Code:       out.ExitCode,
			Diagnostic: strings.TrimSpace(out.Stderr),
		},
	}

	var hops []Hop
	var err error
	if req.OutputFormat == FormatXML {
		hops, err = parseXML(out.Stdout, req, result)
	} else {
		hops, err = parseText(out.Stdout, req, result)
	}
	if err != nil {
		return nil, err
	}

	result.Hops = truncateHops(hops, req.MaxHops)
	result.TargetReached = targetReached(result)
	return result, nil
}

// hopBuilder enforces numbering rules while hops are appended.
type hopBuilder struct {
	target string
	hops   []Hop
	last   int
}

func (b *hopBuilder) add(h Hop) error {
	switch {
	case h.Number < 1:
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("hop number %d is not positive", h.Number))
	case h.Number == b.last:
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("duplicate hop %d", h.Number))
	case h.Number < b.last:
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("hop %d out of order after hop %d", h.Number, b.last))
	}
	// Hops the scanner omitted (shared with another host, or past the
	// retry budget) carry no data.
	for n := b.last + 1; n < h.Number; n++ {
		b.hops = append(b.hops, Hop{Number: n, Status: HopTimeout})
	}
	b.hops = append(b.hops, h)
	b.last = h.Number
	return nil
}

func parseText(stdout string, req Request, result *ScanResult) ([]Hop, error) {
	b := &hopBuilder{target: req.Target}
	hasSection := anySection.MatchString(stdout)

	inSection := false
	sawHop := false

	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if m := sectionRe.FindStringSubmatch(line); m != nil {
			inSection = true
			sawHop = false
			if m[1] != "" {
				result.TraceProbe = m[1]
			}
			continue
		}
		if m := reportRe.FindStringSubmatch(line); m != nil {
			inSection = false
			result.ResolvedAddress = reportedAddress(m[1], m[2])
			continue
		}
		if m := doneRe.FindStringSubmatch(line); m != nil {
			inSection = false
			up, _ := strconv.Atoi(m[1])
			secs, _ := strconv.ParseFloat(m[2], 64)
			result.Summary = Summary{HostsUp: up, Elapsed: time.Duration(secs * float64(time.Second))}
			continue
		}

		switch {
		case inSection:
			if line == "" {
				if sawHop {
					inSection = false
				}
				continue
			}
			if hopHeaderRe.MatchString(line) || !numberedRe.MatchString(line) {
				continue
			}
			if err := parseHopLine(line, b, false); err != nil {
				return nil, err
			}
			sawHop = true
		case !hasSection && numberedRe.MatchString(line):
			// Without a section header lines outside the hop grammar are
			// skipped; numbering errors still fail the parse.
			if err := parseHopLine(line, b, true); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.ErrMalformedOutput(req.Target, err.Error())
	}
	return b.hops, nil
}

// parseHopLine parses one numbered line into b. With lenient set a line
// that does not match the hop grammar is ignored.
func parseHopLine(line string, b *hopBuilder, lenient bool) error {
	m := hopLineRe.FindStringSubmatch(line)
	if m == nil {
		if lenient {
			return nil
		}
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("unrecognised hop line %q", line))
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("bad hop number in %q", line))
	}
	rest := strings.TrimSpace(m[2])

	if rest == "..." || rest == "*" {
		return b.add(Hop{Number: n, Status: HopTimeout})
	}

	if r := hopRangeRe.FindStringSubmatch(rest); r != nil {
		end, err := strconv.Atoi(r[1])
		if err != nil || end < n {
			return errors.ErrMalformedOutput(b.target, fmt.Sprintf("bad hop range in %q", line))
		}
		for k := n; k <= end; k++ {
			if err := b.add(Hop{Number: k, Status: HopTimeout}); err != nil {
				return err
			}
		}
		return nil
	}

	r := hopReplyRe.FindStringSubmatch(rest)
	if r == nil {
		if lenient {
			return nil
		}
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("unrecognised hop line %q", line))
	}

	var rtt RTTValue
	if r[1] != "" {
		ms, err := strconv.ParseFloat(r[1], 64)
		if err != nil || ms < 0 {
			return errors.ErrMalformedOutput(b.target, fmt.Sprintf("bad RTT in %q", line))
		}
		rtt = SomeRTT(ms)
	}

	hostname, address := "", r[2]
	if r[3] != "" {
		hostname, address = r[2], r[3]
	}
	if _, err := netip.ParseAddr(address); err != nil {
		return errors.ErrMalformedOutput(b.target, fmt.Sprintf("bad address %q in hop %d", address, n))
	}

	return b.add(Hop{
		Number:   n,
		Address:  address,
		Hostname: hostname,
		RTT:      rtt,
		Status:   hopStatus(address, rtt),
	})
}

func reportedAddress(first, paren string) string {
	if paren != "" {
		return paren
	}
	return first
}

// truncateHops drops hops beyond the requested depth.
func truncateHops(hops []Hop, maxHops int) []Hop {
	if hops == nil {
		return []Hop{}
	}
	if maxHops > 0 && len(hops) > 0 && hops[len(hops)-1].Number > maxHops {
		cut := 0
		for cut < len(hops) && hops[cut].Number <= maxHops {
			cut++
		}
		hops = hops[:cut]
	}
	return hops
}

// targetReached is true iff the last hop has an address that is the
// resolved target address, or the last hop names the target itself.
func targetReached(r *ScanResult) bool {
	last, ok := r.LastHop()
	if !ok || last.Address == "" {
		return false
	}
	if r.ResolvedAddress != "" && sameAddress(last.Address, r.ResolvedAddress) {
		return true
	}
	if sameAddress(last.Address, r.Target) {
		return true
	}
	return last.Hostname != "" && sameHost(last.Hostname, r.Target)
}

func sameAddress(a, b string) bool {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA != nil || errB != nil {
		return false
	}
	return pa.Unmap() == pb.Unmap()
}

func sameHost(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "."), strings.TrimSuffix(b, "."))
}
