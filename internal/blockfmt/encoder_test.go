package blockfmt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_RoundTrip(t *testing.T) {
	set := NewResultSet()
	tank := set.Open("TANK")
	tank.Set("mix temp", Scalar("fuel 398.105682K"))
	tank.Set("ticks", Scalar("54t"))
	reqs := set.Open("REQUIREMENTS")
	reqs.Set("least-mols", Array("3.2", "4.5", "6.7"))
	set.Open("EMPTY")

	var sb strings.Builder
	require.NoError(t, NewEncoder(&sb).Encode(set))

	assert.Equal(t, "TANK: {\n"+
		"\tmix temp: fuel 398.105682K\n"+
		"\tticks: 54t\n"+
		"}\n"+
		"REQUIREMENTS: {\n"+
		"\tleast-mols: [3.2 | 4.5 | 6.7];\n"+
		"}\n"+
		"EMPTY: {\n"+
		"}\n", sb.String())

	p := NewParser()
	for _, line := range strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n") {
		p.Feed(line)
	}
	if diff := cmp.Diff(snapshot(set), snapshot(p.ResultSet())); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResultSet_MarshalJSON(t *testing.T) {
	set := NewResultSet()
	rec := set.Open("TANK")
	rec.Set("b", Scalar("2"))
	rec.Set("a", Array("x", "y"))

	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.Equal(t, `{"TANK":{"b":"2","a":["x","y"]}}`, string(data))
}
