package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		kind    string
		name    string
		want    bool
	}{
		{"Path:/etc/hosts", "Path", "/etc/hosts", true},
		{"Path:/etc/hosts", "Path", "/etc/hostname", false},
		{"Path:/etc/*", "Path", "/etc/ssh/sshd_config", true},
		{"Path:/etc/*", "Package", "/etc/hosts", false},
		{"*:openssh*", "Package", "openssh-server", true},
		{"*:openssh*", "Service", "openssh", true},
		{"Service:ssh?", "Service", "sshd", true},
		{"Service:ssh?", "Service", "ssh", false},
		{"Package:[ab]ash", "Package", "bash", true},
		{"Package:[ab]ash", "Package", "dash", false},
		{"Path:C:\\temp", "Path", "C:\\temp", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.kind+":"+tt.name, func(t *testing.T) {
			p, err := ParsePattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Matches(tt.kind, tt.name))
		})
	}
}

func TestParsePatternErrors(t *testing.T) {
	for _, s := range []string{"", "Path", ":name", "Path:"} {
		_, err := ParsePattern(s)
		assert.Error(t, err, s)
	}
}

func TestParsePatternKeepsColonsInName(t *testing.T) {
	p, err := ParsePattern("Path:/srv/a:b")
	require.NoError(t, err)
	assert.Equal(t, "Path", p.Kind)
	assert.Equal(t, "/srv/a:b", p.Name)
	assert.Equal(t, "Path:/srv/a:b", p.String())
}

func TestDecisionAllows(t *testing.T) {
	list, err := ParseDecisionList([]string{"Path:/etc/*", "Service:sshd"})
	require.NoError(t, err)

	inList := entry("Service:sshd")
	notInList := entry("Package:vim")

	assert.True(t, Decision{Mode: DecisionWhitelist, List: list}.Allows(inList))
	assert.False(t, Decision{Mode: DecisionWhitelist, List: list}.Allows(notInList))
	assert.False(t, Decision{Mode: DecisionBlacklist, List: list}.Allows(inList))
	assert.True(t, Decision{Mode: DecisionBlacklist, List: list}.Allows(notInList))
	assert.True(t, Decision{Mode: DecisionNone, List: list}.Allows(inList))
}
