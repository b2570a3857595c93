package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIncidentClassification(t *testing.T) {
	out := `INCIDENT|yes
SUMMARY|Ransomware deployment against a hospital network.
CLASSIFICATION|ransomware`

	c := parseIncidentClassification(out)
	assert.True(t, c.DescribesIncident)
	assert.Equal(t, "Ransomware deployment against a hospital network.", c.Summary)
	assert.Equal(t, "ransomware", c.Classification)
}

func TestParseIncidentClassificationNegative(t *testing.T) {
	out := `INCIDENT|no
SUMMARY|none
CLASSIFICATION|none`

	c := parseIncidentClassification(out)
	assert.False(t, c.DescribesIncident)
	assert.Empty(t, c.Summary)
	assert.Equal(t, "none", c.Classification)
}

func TestParseIncidentClassificationNoise(t *testing.T) {
	// Models pad their output; everything that isn't a field line is ignored.
	out := `Here is my verdict:

INCIDENT|Yes
CLASSIFICATION|Phishing
Thanks for asking!`

	c := parseIncidentClassification(out)
	assert.True(t, c.DescribesIncident)
	assert.Equal(t, "phishing", c.Classification)
}

func TestParseRelations(t *testing.T) {
	values := []string{"10.0.0.1", "evil.example.com", "deadbeef"}
	out := `RELATION|evil.example.com|10.0.0.1|communicates-with
RELATION|deadbeef|evil.example.com|made-up-type
RELATION|unknown.example.org|10.0.0.1|uses
RELATION|10.0.0.1|10.0.0.1|uses
not a relation line`

	relations := parseRelations(out, values)
	require.Len(t, relations, 2)

	assert.Equal(t, "evil.example.com", relations[0].Source)
	assert.Equal(t, "10.0.0.1", relations[0].Target)
	assert.Equal(t, "communicates-with", relations[0].Type)

	// Unknown relation types collapse to related-to.
	assert.Equal(t, "related-to", relations[1].Type)
}

func TestParseRelationsEmpty(t *testing.T) {
	assert.Empty(t, parseRelations("", []string{"a", "b"}))
	assert.Empty(t, parseRelations("RELATION|a|b|uses", nil))
}
