package scanning

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/tracerama/internal/errors"
)

// parseXML reads the <trace> element of nmap's XML report. The same
// numbering rules apply as for text output.
func parseXML(stdout string, req Request, result *ScanResult) ([]Hop, error) {
	if strings.TrimSpace(stdout) == "" {
		return nil, nil
	}

	run := &nmap.Run{}
	if err := nmap.Parse([]byte(stdout), run); err != nil {
		return nil, errors.ErrMalformedOutput(req.Target, "invalid XML: "+err.Error())
	}

	result.Summary = Summary{
		HostsUp: run.Stats.Hosts.Up,
		Elapsed: time.Duration(float64(run.Stats.Finished.Elapsed) * float64(time.Second)),
	}

	if len(run.Hosts) == 0 {
		return nil, nil
	}
	host := run.Hosts[0]
	for _, addr := range host.Addresses {
		if addr.AddrType == "ipv4" || addr.AddrType == "ipv6" {
			result.ResolvedAddress = addr.Addr
			break
		}
	}
	if host.Trace.Port > 0 && host.Trace.Proto != "" {
		result.TraceProbe = fmt.Sprintf("%d/%s", host.Trace.Port, host.Trace.Proto)
	}

	b := &hopBuilder{target: req.Target}
	for _, th := range host.Trace.Hops {
		var rtt RTTValue
		if th.RTT != "" && th.RTT != "--" {
			ms, err := strconv.ParseFloat(th.RTT, 64)
			if err != nil || ms < 0 {
				return nil, errors.ErrMalformedOutput(req.Target, fmt.Sprintf("bad RTT %q at ttl %v", th.RTT, th.TTL))
			}
			rtt = SomeRTT(ms)
		}
		if err := b.add(Hop{
			Number:   int(th.TTL),
			Address:  th.IPAddr,
			Hostname: th.Host,
			RTT:      rtt,
			Status:   hopStatus(th.IPAddr, rtt),
		}); err != nil {
			return nil, err
		}
	}
	return b.hops, nil
}
