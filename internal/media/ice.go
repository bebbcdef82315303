package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ICECandidate is a decoded candidate-attribute line. Candidates are
// validated here before being handed to the WebRTC stack, so a malformed
// line from a client produces a useful error instead of a silent ICE
// failure.
type ICECandidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   uint32
	Address    string
	Port       int
	Type       string

	// Optional attributes.
	RelatedAddress string
	RelatedPort    int
	TCPType        string
}

var candidateTypes = map[string]bool{
	"host":  true,
	"srflx": true,
	"prflx": true,
	"relay": true,
}

// ParseICECandidate decodes an a=candidate line, with or without the
// "candidate:" prefix. Unrecognized trailing attributes (generation,
// ufrag, network-cost) are ignored.
func ParseICECandidate(raw string) (*ICECandidate, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "a=")
	s = strings.TrimPrefix(s, "candidate:")
	if s == "" {
		return nil, fmt.Errorf("empty candidate")
	}

	fields := strings.Fields(s)
	if len(fields) < 8 {
		return nil, fmt.Errorf("candidate has %d fields, want at least 8", len(fields))
	}

	component, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("candidate component: %w", err)
	}
	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("candidate priority: %w", err)
	}
	port, err := strconv.Atoi(fields[5])
	if err != nil {
		return nil, fmt.Errorf("candidate port: %w", err)
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("candidate port %d out of range", port)
	}
	if fields[6] != "typ" {
		return nil, fmt.Errorf("candidate field 7 is %q, want \"typ\"", fields[6])
	}
	typ := fields[7]
	if !candidateTypes[typ] {
		return nil, fmt.Errorf("unknown candidate type %q", typ)
	}

	cand := &ICECandidate{
		Foundation: fields[0],
		Component:  component,
		Protocol:   strings.ToLower(fields[2]),
		Priority:   uint32(priority),
		Address:    fields[4],
		Port:       port,
		Type:       typ,
	}
	if cand.Protocol != "udp" && cand.Protocol != "tcp" {
		return nil, fmt.Errorf("unknown candidate protocol %q", cand.Protocol)
	}

	// Key-value tail: raddr/rport/tcptype plus extensions we skip.
	rest := fields[8:]
	for i := 0; i+1 < len(rest); i += 2 {
		switch rest[i] {
		case "raddr":
			cand.RelatedAddress = rest[i+1]
		case "rport":
			rport, err := strconv.Atoi(rest[i+1])
			if err != nil {
				return nil, fmt.Errorf("candidate rport: %w", err)
			}
			cand.RelatedPort = rport
		case "tcptype":
			cand.TCPType = rest[i+1]
		}
	}

	return cand, nil
}
