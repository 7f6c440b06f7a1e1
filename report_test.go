package aerogpu

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportOK(t *testing.T) {
	var r Report
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())

	r.PacketsProcessed = 3
	err := validationf("CLEAR: no render target bound")
	r.fail(3, err)
	assert.False(t, r.OK())
	assert.Equal(t, err, r.Err())
	require.Len(t, r.Events, 1)
	assert.Equal(t, Event{Kind: EventError, At: 3, Message: err.Error(), Err: err}, r.Events[0])
}

func TestReportJSON(t *testing.T) {
	var r Report
	r.PacketsProcessed = 2
	r.fail(2, classify(validationf("DRAW: no texture bound to slot 0")))

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"packets_processed": 2,
		"ok": false,
		"events": [{
			"kind": "error",
			"at": 2,
			"message": "DRAW: no texture bound to slot 0",
			"error_kind": "validation"
		}]
	}`, string(b))
}

func TestReportJSONEmpty(t *testing.T) {
	b, err := Report{PacketsProcessed: 5}.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"packets_processed":5,"ok":true,"events":[]}`, string(b))
}

func TestKindNames(t *testing.T) {
	seen := make(map[string]error)
	for _, k := range kinds {
		name := kindName(k)
		if prev, dup := seen[name]; dup {
			t.Errorf("%v and %v share the name %q", prev, k, name)
		}
		seen[name] = k
	}
	assert.Len(t, seen, len(kinds))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
