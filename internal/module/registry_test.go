package module

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/engine"
)

type sink struct {
	mu         sync.Mutex
	exceptions []*engine.Exception
}

func (s *sink) handle(_ int32, exc *engine.Exception) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions = append(s.exceptions, exc)
	return true
}

func setup(t *testing.T) (*engine.ExecutionContext, *Registry, *sink) {
	t.Helper()
	s := &sink{}
	ec, err := engine.New(1, s.handle, nil)
	require.NoError(t, err)
	t.Cleanup(ec.Close)

	reg, err := Install(ec)
	require.NoError(t, err)
	return ec, reg, s
}

func TestDispatchToListener(t *testing.T) {
	ec, reg, s := setup(t)

	require.True(t, ec.EvaluateScript(`
		moduleManager.addModuleListener('geo', function(event, extra) {
			return { type: event.type, lat: event.detail.lat, tag: extra.tag };
		});
	`, "listener.js", 1))
	assert.True(t, reg.Has("geo"))

	res := reg.Dispatch("geo", "position", []byte(`{"lat": 51.5}`), []byte(`{"tag":"x"}`))

	require.NoError(t, res.Err)
	assert.True(t, res.OK)
	assert.True(t, res.Handled)
	assert.JSONEq(t, `{"type":"position","lat":51.5,"tag":"x"}`, string(res.Value))
	assert.Empty(t, s.exceptions)
}

func TestDispatchWithoutListener(t *testing.T) {
	_, reg, s := setup(t)

	res := reg.Dispatch("missing", "ping", nil, nil)

	assert.True(t, res.OK)
	assert.False(t, res.Handled)
	assert.Equal(t, "null", string(res.Value))
	assert.Empty(t, s.exceptions)
}

func TestDispatchListenerThrows(t *testing.T) {
	ec, reg, s := setup(t)

	require.True(t, ec.EvaluateScript(`
		moduleManager.addModuleListener('bad', function() { throw new Error('listener failed'); });
	`, "listener.js", 1))

	res := reg.Dispatch("bad", "ping", nil, nil)

	assert.False(t, res.OK)
	assert.True(t, res.Handled)
	assert.NoError(t, res.Err)
	require.Len(t, s.exceptions, 1)
	assert.Equal(t, engine.RuntimeException, s.exceptions[0].Kind)
	assert.Contains(t, s.exceptions[0].Message, "listener failed")
	assert.True(t, ec.IsValid())
}

func TestDispatchMalformedPayload(t *testing.T) {
	tests := []struct {
		name  string
		event []byte
		extra []byte
	}{
		{name: "event", event: []byte(`{"lat":`)},
		{name: "extra", event: []byte(`{}`), extra: []byte(`not json`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec, reg, s := setup(t)
			require.True(t, ec.EvaluateScript(`moduleManager.addModuleListener('m', function() { return 1; });`, "l.js", 1))

			res := reg.Dispatch("m", "ping", tt.event, tt.extra)

			assert.False(t, res.OK)
			assert.Error(t, res.Err)
			require.Len(t, s.exceptions, 1)
			assert.Equal(t, engine.HostReportedError, s.exceptions[0].Kind)
		})
	}
}

func TestDispatchUnencodableResult(t *testing.T) {
	tests := []struct {
		name     string
		listener string
		want     string
	}{
		{name: "cyclic object", listener: "function() { var o = {}; o.self = o; return o; }", want: "cyclic object"},
		{name: "cyclic array", listener: "function() { var a = [1]; a.push(a); return a; }", want: "cyclic array"},
		{name: "function", listener: "function() { return function() {}; }", want: "function"},
		{name: "nested function", listener: "function() { return { cb: function() {} }; }", want: "function"},
		{name: "promise", listener: "function() { return Promise.resolve(1); }", want: "Promise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec, reg, s := setup(t)
			require.True(t, ec.EvaluateScript("moduleManager.addModuleListener('m', "+tt.listener+");", "l.js", 1))

			res := reg.Dispatch("m", "ping", nil, nil)

			assert.False(t, res.OK)
			assert.True(t, res.Handled)
			var unencodable ErrUnencodable
			require.ErrorAs(t, res.Err, &unencodable)
			assert.Equal(t, tt.want, unencodable.Type)
			require.Len(t, s.exceptions, 1)
			assert.Equal(t, engine.HostReportedError, s.exceptions[0].Kind)
			assert.True(t, ec.IsValid())
		})
	}
}

func TestDispatchSharedReference(t *testing.T) {
	ec, reg, _ := setup(t)
	require.True(t, ec.EvaluateScript(`
		moduleManager.addModuleListener('m', function() { var p = {x: 1}; return {a: p, b: p}; });
	`, "l.js", 1))

	res := reg.Dispatch("m", "ping", nil, nil)

	require.NoError(t, res.Err)
	assert.True(t, res.OK)
	assert.JSONEq(t, `{"a":{"x":1},"b":{"x":1}}`, string(res.Value))
}

func TestAddListenerRequiresFunction(t *testing.T) {
	ec, reg, s := setup(t)

	ok := ec.EvaluateScript(`moduleManager.addModuleListener('m', 42)`, "l.js", 1)

	assert.False(t, ok)
	assert.False(t, reg.Has("m"))
	require.Len(t, s.exceptions, 1)
	assert.Contains(t, s.exceptions[0].Message, "TypeError")
}

func TestRemoveListener(t *testing.T) {
	ec, reg, _ := setup(t)

	val, ok := ec.Evaluate(`
		moduleManager.addModuleListener('m', function() {});
		var had = moduleManager.hasModuleListener('m');
		had && moduleManager.removeModuleListener('m') && !moduleManager.hasModuleListener('m');
	`, "l.js", 1)

	require.True(t, ok)
	assert.True(t, val.ToBoolean())
	assert.False(t, reg.Has("m"))
	assert.Empty(t, reg.Names())
}

func TestDispatchOnClosedContext(t *testing.T) {
	ec, reg, s := setup(t)
	ec.Close()

	res := reg.Dispatch("m", "ping", nil, nil)

	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, engine.ErrInvalidContext)
	assert.Empty(t, s.exceptions)
}
