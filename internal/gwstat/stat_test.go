package gwstat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters_GroupLifecycle(t *testing.T) {
	c := New()

	c.GroupCreated()
	c.GroupCreated()
	assert.EqualValues(t, 2, c.GroupsLive.Load())

	c.GroupRetired()
	assert.EqualValues(t, 1, c.GroupsLive.Load())
	assert.EqualValues(t, 1, c.GroupsRetired.Load())
}

func TestCounters_MarshalJSON(t *testing.T) {
	c := New()
	c.GroupCreated()
	c.DeadlineFirings.Add(3)

	b, err := c.MarshalJSON()
	require.NoError(t, err)

	var out map[string]int64
	require.NoError(t, json.Unmarshal(b, &out))
	assert.EqualValues(t, 1, out["groups_live"])
	assert.EqualValues(t, 3, out["deadline_firings"])
}
