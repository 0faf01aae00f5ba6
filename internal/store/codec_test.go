package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balkashynov/proctor/internal/models"
)

func sampleSessions() map[string]*models.SessionRecord {
	end := t0.Add(10 * time.Minute)
	active := models.NewSessionRecord(models.Profile{Key: "s1", DisplayName: "Asha Rao", RollNumber: "CS-042", Branch: "CSE"}, t0)
	active.AppendSnapshot(models.SnapshotEntry{BlobRef: "b1", Timestamp: t0.Add(5 * time.Second), Kind: models.SnapshotCapture}, 30)
	active.RecordViolation(models.SnapshotEntry{Timestamp: t0.Add(6 * time.Second), Kind: models.SnapshotViolation, Signal: "context_hidden"}, 30)

	ended := models.NewSessionRecord(models.Profile{Key: "s2", DisplayName: "Ben Ode"}, t0)
	ended.End(end, models.EndSubmitted)

	return map[string]*models.SessionRecord{"s1": active, "s2": ended}
}

func TestCodec_RoundTrip(t *testing.T) {
	in := sampleSessions()
	data, err := encodeSessions(in)
	require.NoError(t, err)

	out, err := decodeSessions(data)
	require.NoError(t, err)
	require.Len(t, out, 2)

	s1 := out["s1"]
	assert.Equal(t, 1, s1.ViolationCount)
	assert.Equal(t, "b1", s1.LastSnapshot)
	assert.Len(t, s1.SnapshotHistory, 2)
	assert.True(t, s1.StartTime.Equal(t0))

	s2 := out["s2"]
	assert.False(t, s2.IsActive)
	require.NotNil(t, s2.EndTime)
	assert.Equal(t, models.EndSubmitted, s2.EndReason)
}

func TestCodec_EmptyInputIsEmptyTable(t *testing.T) {
	out, err := decodeSessions(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCodec_Corruption(t *testing.T) {
	valid, err := encodeSessions(sampleSessions())
	require.NoError(t, err)

	tamper := func(fn func(env map[string]any)) []byte {
		var env map[string]any
		require.NoError(t, json.Unmarshal(valid, &env))
		fn(env)
		out, err := json.Marshal(env)
		require.NoError(t, err)
		return out
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"truncated", valid[:len(valid)/2]},
		{"not an object", []byte(`"sessions"`)},
		{"wrong format", tamper(func(env map[string]any) { env["format"] = "other" })},
		{"future version", tamper(func(env map[string]any) { env["version"] = 2 })},
		{"missing digest", tamper(func(env map[string]any) { delete(env, "digest") })},
		{"digest mismatch", tamper(func(env map[string]any) {
			env["digest"] = strings.Repeat("0", 64)
		})},
		{"tampered record", tamper(func(env map[string]any) {
			sessions := env["sessions"].(map[string]any)
			sessions["s1"].(map[string]any)["violationCount"] = 0
		})},
		{"negative violations", tamper(func(env map[string]any) {
			sessions := env["sessions"].(map[string]any)
			sessions["s1"].(map[string]any)["violationCount"] = -1
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeSessions(tc.data)
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestCodec_RejectsMisfiledRecord(t *testing.T) {
	sessions := sampleSessions()
	sessions["other"] = sessions["s1"]
	delete(sessions, "s1")

	data, err := encodeSessions(sessions)
	require.NoError(t, err)

	_, err = decodeSessions(data)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestCodec_RejectsInactiveWithoutEndTime(t *testing.T) {
	sessions := sampleSessions()
	sessions["s1"].IsActive = false

	data, err := encodeSessions(sessions)
	require.NoError(t, err)

	_, err = decodeSessions(data)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDigest_IgnoresKeyOrderAndWhitespace(t *testing.T) {
	a, err := digest([]byte(`{"b":1,"a":[1,2]}`))
	require.NoError(t, err)
	b, err := digest([]byte("{ \"a\": [1, 2],\n \"b\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
