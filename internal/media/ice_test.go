package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseICECandidate_Host(t *testing.T) {
	cand, err := ParseICECandidate("candidate:842163049 1 udp 1677729535 192.168.1.4 58130 typ host generation 0 ufrag EsAw")
	require.NoError(t, err)

	assert.Equal(t, "842163049", cand.Foundation)
	assert.Equal(t, 1, cand.Component)
	assert.Equal(t, "udp", cand.Protocol)
	assert.Equal(t, uint32(1677729535), cand.Priority)
	assert.Equal(t, "192.168.1.4", cand.Address)
	assert.Equal(t, 58130, cand.Port)
	assert.Equal(t, "host", cand.Type)
	assert.Empty(t, cand.RelatedAddress)
}

func TestParseICECandidate_ServerReflexive(t *testing.T) {
	cand, err := ParseICECandidate("candidate:842163049 1 udp 1686052607 203.0.113.9 58130 typ srflx raddr 192.168.1.4 rport 58131 generation 0")
	require.NoError(t, err)

	assert.Equal(t, "srflx", cand.Type)
	assert.Equal(t, "203.0.113.9", cand.Address)
	assert.Equal(t, "192.168.1.4", cand.RelatedAddress)
	assert.Equal(t, 58131, cand.RelatedPort)
}

func TestParseICECandidate_TCPType(t *testing.T) {
	// SDP attribute form with the a= prefix still parses.
	cand, err := ParseICECandidate("a=candidate:4234997325 1 tcp 2043278322 192.168.0.56 9 typ host tcptype active")
	require.NoError(t, err)

	assert.Equal(t, "tcp", cand.Protocol)
	assert.Equal(t, "active", cand.TCPType)
	assert.Equal(t, 9, cand.Port)
}

func TestParseICECandidate_UppercaseProtocolNormalized(t *testing.T) {
	cand, err := ParseICECandidate("candidate:1 1 UDP 2130706431 10.0.0.1 3478 typ host")
	require.NoError(t, err)
	assert.Equal(t, "udp", cand.Protocol)
}

func TestParseICECandidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"too short":     "candidate:1 1 udp 2130706431",
		"bad component": "candidate:1 one udp 2130706431 10.0.0.1 3478 typ host",
		"bad priority":  "candidate:1 1 udp banana 10.0.0.1 3478 typ host",
		"bad port":      "candidate:1 1 udp 2130706431 10.0.0.1 port typ host",
		"port range":    "candidate:1 1 udp 2130706431 10.0.0.1 70000 typ host",
		"missing typ":   "candidate:1 1 udp 2130706431 10.0.0.1 3478 kind host",
		"bad type":      "candidate:1 1 udp 2130706431 10.0.0.1 3478 typ wormhole",
		"bad protocol":  "candidate:1 1 sctp 2130706431 10.0.0.1 3478 typ host",
		"bad rport":     "candidate:1 1 udp 2130706431 203.0.113.9 3478 typ srflx raddr 10.0.0.1 rport nope",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseICECandidate(raw)
			assert.Error(t, err)
		})
	}
}
