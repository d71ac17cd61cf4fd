// Package scanning runs TCP and UDP traceroutes through nmap and turns its
// output into structured results.
//
// # Overview
//
// A Request names a target, a destination port, a protocol, a hop limit and a
// timeout. The Invoker executes nmap once per request and returns the raw
// Output; the Parser turns that output into an immutable ScanResult. The
// Scanner ties both together, adds hostnames through an optional
// HostResolver, and guarantees that at most one nmap process runs per
// (target, port, protocol) key.
//
// # Main Components
//
//   - Invoker: builds the argument list, runs the binary in its own process
//     group and classifies failures (TIMEOUT, CANCELED, PERMISSION,
//     BINARY_NOT_FOUND, NON_ZERO_EXIT).
//   - Parser: reads the TRACEROUTE section of normal output, or the <trace>
//     element when OutputFormat is FormatXML. Malformed hop lines fail the
//     whole parse.
//   - Scanner: Scan joins an in-flight scan for the same key, TryScan
//     refuses with BUSY, ScanBatch fans requests out over a worker pool.
//   - ComputeStatistics and ComputeBatchStatistics derive figures from
//     results without touching raw output.
//
// # Usage
//
//	scanner := scanning.NewScanner()
//	defer scanner.Close()
//
//	req := scanning.NewRequest("example.com")
//	req.Port = 443
//
//	result, err := scanner.Scan(ctx, req)
//	if err != nil {
//		fmt.Println(errors.Guidance(err))
//	}
//	stats := scanning.ComputeStatistics(result)
//
// # Thread Safety
//
// Scanner, Parser and DNSResolver are safe for concurrent use. ScanResult
// values are never modified after construction; WithHostnames returns a
// copy.
package scanning
