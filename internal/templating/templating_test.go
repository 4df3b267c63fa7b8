package templating

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResultAsBoolean(t *testing.T) {
	tests := []struct {
		value interface{}
		want  bool
	}{
		{true, true},
		{false, false},
		{float64(1), true},
		{float64(0), false},
		{float64(-2.5), true},
		{int(3), true},
		{"on", true},
		{" ON ", true},
		{"true", true},
		{"Yes", true},
		{"enable", true},
		{"1", true},
		{"off", false},
		{"0", false},
		{"2", false},
		{"unknown", false},
		{"", false},
		{nil, false},
		{[]interface{}{1}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ResultAsBoolean(tt.value), "value %#v", tt.value)
	}
}

func TestResultAsString(t *testing.T) {
	assert.Equal(t, "", ResultAsString(nil))
	assert.Equal(t, "mdi:door", ResultAsString("mdi:door"))
	assert.Equal(t, "42", ResultAsString(float64(42)))
}

func TestFromHA(t *testing.T) {
	r := FromHA("{{ x }}", ha.TemplateResult{Value: json.RawMessage(`"on"`)})
	assert.False(t, r.IsError())
	assert.Equal(t, "on", r.Value)

	r = FromHA("{{ x }}", ha.TemplateResult{Error: "UndefinedError"})
	require.True(t, r.IsError())
	assert.True(t, IsTemplateError(r.Err))
	assert.Contains(t, r.Err.Error(), "UndefinedError")

	r = FromHA("{{ x }}", ha.TemplateResult{Value: json.RawMessage(`{`)})
	assert.True(t, r.IsError())

	assert.False(t, IsTemplateError(errors.New("other")))
}

func newMockEntity(t *testing.T) (*ha.MockClient, *Entity, *int) {
	t.Helper()
	mock := ha.NewMockClient()
	writes := 0
	e := NewEntity(NewHARenderer(mock, loop.Inline{}, zap.NewNop()), loop.Inline{}, zap.NewNop(), func() { writes++ })
	return mock, e, &writes
}

func TestEntity_StandardTemplates(t *testing.T) {
	mock, e, writes := newMockEntity(t)

	e.AddStandardTemplates(EntityTemplates{
		Availability: "{{ avail }}",
		Icon:         "{{ icon }}",
		Picture:      "{{ pic }}",
		Attributes: map[string]string{
			"battery": "{{ battery }}",
		},
	})
	e.Start()
	assert.True(t, e.Running())
	assert.Len(t, mock.Templates(), 4)

	mock.EmitTemplateResult("{{ avail }}", "off")
	mock.EmitTemplateResult("{{ icon }}", "mdi:door")
	mock.EmitTemplateResult("{{ pic }}", "/local/door.png")
	mock.EmitTemplateResult("{{ battery }}", 87)

	assert.False(t, e.Available())
	assert.Equal(t, "mdi:door", e.Icon())
	assert.Equal(t, "/local/door.png", e.Picture())
	assert.Equal(t, map[string]interface{}{"battery": float64(87)}, e.Attributes())
	assert.Equal(t, 4, *writes)

	// Errors: availability falls back to available, others are cleared.
	mock.EmitTemplateError("{{ avail }}", "boom")
	mock.EmitTemplateError("{{ icon }}", "boom")
	mock.EmitTemplateError("{{ battery }}", "boom")

	assert.True(t, e.Available())
	assert.Equal(t, "", e.Icon())
	assert.Empty(t, e.Attributes())
}

func TestEntity_EmptyTemplatesAreSkipped(t *testing.T) {
	mock, e, _ := newMockEntity(t)

	e.AddStandardTemplates(EntityTemplates{})
	e.Start()

	assert.Empty(t, mock.Templates())
	assert.True(t, e.Available())
}

func TestEntity_StopDropsLateRenderings(t *testing.T) {
	mock, e, writes := newMockEntity(t)

	var got []interface{}
	e.AddAttribute("_state", "{{ s }}", SinkFuncs{OnValue: func(v interface{}) { got = append(got, v) }})
	e.Start()
	e.Start() // no-op while running

	mock.EmitTemplateResult("{{ s }}", true)
	e.Stop()
	e.Stop()
	mock.EmitTemplateResult("{{ s }}", false)

	assert.Equal(t, []interface{}{true}, got)
	assert.Equal(t, 1, *writes)
	assert.Empty(t, mock.Templates())
}

func TestEntity_SubscribeFailureReportsError(t *testing.T) {
	mock, e, _ := newMockEntity(t)
	mock.FailTemplate("{{ broken }", errors.New("HA error: template_error"))

	var gotErr error
	e.AddAttribute("_state", "{{ broken }", SinkFuncs{OnError: func(err error) { gotErr = err }})
	e.Start()

	require.Error(t, gotErr)
	assert.True(t, IsTemplateError(gotErr))
}

func TestEntity_Reset(t *testing.T) {
	mock, e, _ := newMockEntity(t)

	e.AddStandardTemplates(EntityTemplates{Icon: "{{ icon }}"})
	e.Start()
	mock.EmitTemplateResult("{{ icon }}", "mdi:x")

	e.Reset()
	assert.False(t, e.Running())
	assert.Equal(t, "", e.Icon())

	e.Start()
	assert.Empty(t, mock.Templates())
}

// queuedExecutor holds posted tasks until run is called.
type queuedExecutor struct {
	tasks []func()
}

func (q *queuedExecutor) Post(task func()) { q.tasks = append(q.tasks, task) }

func (q *queuedExecutor) run() {
	for len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		task()
	}
}

func TestHARenderer_SubscribeReturnsBeforeRoundTrip(t *testing.T) {
	mock := ha.NewMockClient()
	io := &queuedExecutor{}
	r := NewHARenderer(mock, io, zap.NewNop())

	var got []Result
	sub, err := r.Subscribe("{{ a }}", func(res Result) { got = append(got, res) })
	require.NoError(t, err)
	assert.Empty(t, mock.Templates())

	io.run()
	assert.Len(t, mock.Templates(), 1)

	mock.EmitTemplateResult("{{ a }}", "on")
	require.Len(t, got, 1)
	assert.Equal(t, "on", got[0].Value)

	require.NoError(t, sub.Unsubscribe())
	mock.EmitTemplateResult("{{ a }}", "off")
	assert.Len(t, got, 1)

	io.run()
	assert.Empty(t, mock.Templates())
}

func TestHARenderer_UnsubscribeWhileInFlight(t *testing.T) {
	mock := ha.NewMockClient()
	io := &queuedExecutor{}
	r := NewHARenderer(mock, io, zap.NewNop())

	sub, err := r.Subscribe("{{ a }}", func(Result) { t.Fatal("rendering after unsubscribe") })
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	io.run()
	assert.Empty(t, mock.Templates())
	assert.Zero(t, mock.EmitTemplateResult("{{ a }}", "on"))
}

func TestHARenderer_SubscribeFailureIsRendered(t *testing.T) {
	mock := ha.NewMockClient()
	mock.FailTemplate("{{ broken }", errors.New("HA error: template_error"))
	io := &queuedExecutor{}
	r := NewHARenderer(mock, io, zap.NewNop())

	var got []Result
	_, err := r.Subscribe("{{ broken }", func(res Result) { got = append(got, res) })
	require.NoError(t, err)
	assert.Empty(t, got)

	io.run()
	require.Len(t, got, 1)
	assert.True(t, IsTemplateError(got[0].Err))
}
