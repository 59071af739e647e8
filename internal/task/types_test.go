package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStateTransitions verifies the pending->running->done progression.
func TestStateTransitions(t *testing.T) {
	t.Parallel()

	st := NewState(WorkItem{Index: 2, Identifier: "https://example.com"})
	require.Equal(t, StatusPending, st.Status())
	require.Equal(t, 3, st.Item.Ordinal())
	require.False(t, st.Done())

	start := time.Unix(100, 0)
	require.True(t, st.Start("/tmp/out/3", start))
	require.False(t, st.Start("/tmp/other", start), "running task cannot restart")
	require.Equal(t, StatusRunning, st.Status())
	require.Equal(t, "/tmp/out/3", st.WorkspacePath())

	st.AddCaptureFailure()
	st.AddCaptureFailure()
	require.Equal(t, 2, st.CapturesFailed())

	require.True(t, st.Finish(start.Add(3*time.Second)))
	require.False(t, st.Finish(start.Add(time.Hour)))
	require.True(t, st.Done())
	require.Equal(t, 3*time.Second, st.Elapsed())
}

// TestInjectIdentifier covers both the clean path and the collision path.
func TestInjectIdentifier(t *testing.T) {
	t.Parallel()

	t.Run("Injects", func(t *testing.T) {
		res := Result{
			Raw:        map[string]any{"title": "Hello"},
			Structured: map[string]Field{"title": {Value: "Hello"}},
		}
		require.True(t, res.InjectIdentifier("https://a"))
		assert.Equal(t, "https://a", res.Raw[ReservedKey])
		assert.Equal(t, Field{Value: "https://a"}, res.Structured[ReservedKey])
	})

	t.Run("NilMaps", func(t *testing.T) {
		var res Result
		require.True(t, res.InjectIdentifier("https://b"))
		assert.Len(t, res.Raw, 1)
		assert.Len(t, res.Structured, 1)
	})

	t.Run("CollisionInStructuredPreserved", func(t *testing.T) {
		res := Result{
			Raw:        map[string]any{},
			Structured: map[string]Field{ReservedKey: {Value: "original"}},
		}
		require.False(t, res.InjectIdentifier("https://c"))
		assert.Equal(t, Field{Value: "original"}, res.Structured[ReservedKey])
		assert.NotContains(t, res.Raw, ReservedKey)
	})

	t.Run("CollisionInRaw", func(t *testing.T) {
		res := Result{Raw: map[string]any{ReservedKey: "raw"}}
		require.False(t, res.InjectIdentifier("https://d"))
		assert.Equal(t, "raw", res.Raw[ReservedKey])
	})
}
