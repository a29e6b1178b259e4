package supervisor

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/linkrt/pkg/config"
	"github.com/openfroyo/linkrt/pkg/drivers"
	"github.com/openfroyo/linkrt/pkg/drivers/sim"
	"github.com/openfroyo/linkrt/pkg/engine"
	"github.com/openfroyo/linkrt/pkg/telemetry"
)

// simRecorder registers a "sim" driver that remembers every endpoint it
// builds.
type simRecorder struct {
	mu        sync.Mutex
	endpoints map[string]*sim.Endpoint
}

func newSimRecorder() (*simRecorder, *drivers.Registry) {
	rec := &simRecorder{endpoints: make(map[string]*sim.Endpoint)}
	reg := drivers.NewRegistry()
	reg.MustRegister("sim", func(spec drivers.Spec) (engine.Connector[[]byte], error) {
		conn, err := sim.Factory(spec)
		if err != nil {
			return nil, err
		}
		rec.mu.Lock()
		rec.endpoints[spec.Name] = conn.(*sim.Endpoint)
		rec.mu.Unlock()
		return conn, nil
	})
	return rec, reg
}

func (r *simRecorder) get(name string) *sim.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoints[name]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func mustParse(t *testing.T, yaml string) *config.File {
	t.Helper()
	f, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return f
}

const forwardConfig = `
resources:
  - name: thermo
    driver: sim
    poll_interval: 10ms
  - name: archive
    driver: sim
pipelines:
  - name: samples
    source: thermo
    sink: archive
    max_queue_size: 8
`

func TestSupervisor_ForwardsReadsToSink(t *testing.T) {
	rec, reg := newSimRecorder()
	s, err := New(mustParse(t, forwardConfig), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	archive := rec.get("archive")
	waitFor(t, 2*time.Second, func() bool { return len(archive.Written()) >= 3 })

	for i, payload := range archive.Written() {
		if !bytes.HasPrefix(payload, []byte("thermo #")) {
			t.Errorf("Expected payload %d to come from thermo, got %q", i, payload)
		}
	}

	st := s.Status()
	if len(st.Resources) != 2 || len(st.Pipelines) != 1 {
		t.Fatalf("Expected 2 resources and 1 pipeline, got %+v", st)
	}
	if !st.Resources[0].Connected || st.Resources[0].Driver != "sim" {
		t.Errorf("Expected thermo connected, got %+v", st.Resources[0])
	}
	if st.Resources[0].Stats == nil || st.Resources[0].Stats.Counters.Valid == 0 {
		t.Errorf("Expected thermo read statistics, got %+v", st.Resources[0].Stats)
	}
	if st.Pipelines[0].Source != "thermo" || st.Pipelines[0].Sink != "archive" {
		t.Errorf("Unexpected pipeline status %+v", st.Pipelines[0])
	}

	snaps := s.Snapshots()
	for _, name := range []string{"thermo", "archive", "samples"} {
		if _, ok := snaps[name]; !ok {
			t.Errorf("Expected snapshot for %s", name)
		}
	}
}

func TestSupervisor_PipelineWithoutSink(t *testing.T) {
	_, reg := newSimRecorder()
	f := mustParse(t, `
resources:
  - {name: thermo, driver: sim, poll_interval: 10ms}
pipelines:
  - {name: samples, source: thermo}
`)
	s, err := New(f, WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	p, ok := s.Pipeline("samples")
	if !ok {
		t.Fatal("Expected pipeline samples")
	}
	waitFor(t, 2*time.Second, func() bool { return p.Stats().Counters().Valid >= 2 })
}

func TestNew_UnknownDriver(t *testing.T) {
	f := mustParse(t, "resources:\n  - {name: a, driver: modbus}\n")
	_, err := New(f)
	if err == nil {
		t.Fatal("Expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), `unknown driver "modbus"`) {
		t.Errorf("Expected unknown driver error, got %v", err)
	}
}

func TestNew_DriverOptionError(t *testing.T) {
	f := mustParse(t, "resources:\n  - {name: a, driver: sim, options: {failure_ratio: \"2\"}}\n")
	if _, err := New(f); err == nil {
		t.Error("Expected error for invalid driver option")
	}
}

func TestSupervisor_StartToleratesConnectFailure(t *testing.T) {
	rec, reg := newSimRecorder()
	f := mustParse(t, `
resources:
  - name: flaky
    driver: sim
    poll_interval: 10ms
    options: {connect_failures: "2"}
`)
	s, err := New(f, WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Expected connect failures to be tolerated, got %v", err)
	}
	defer s.Stop(ctx)

	// Polling reconnects once the injected failures are used up.
	waitFor(t, 2*time.Second, func() bool { return rec.get("flaky").Connected() })
}

func TestSupervisor_ApplyLiveChanges(t *testing.T) {
	rec, reg := newSimRecorder()
	s, err := New(mustParse(t, `
resources:
  - {name: thermo, driver: sim, poll_interval: 1h}
  - {name: spare, driver: sim, disabled: true}
`), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	if rec.get("spare").Connected() {
		t.Fatal("Expected disabled resource to stay disconnected")
	}

	ch := s.Apply(ctx, mustParse(t, `
resources:
  - {name: thermo, driver: sim, poll_interval: 10ms}
  - {name: spare, driver: sim}
`))
	if len(ch.RestartRequired) != 0 {
		t.Errorf("Expected no restart, got %v", ch.RestartRequired)
	}
	if len(ch.Applied) != 2 {
		t.Fatalf("Expected 2 applied changes, got %v", ch.Applied)
	}
	if !strings.Contains(ch.Applied[0], "poll_interval 1h0m0s -> 10ms") {
		t.Errorf("Unexpected change %q", ch.Applied[0])
	}

	if !rec.get("spare").Connected() {
		t.Error("Expected enabled resource to connect")
	}
	thermo, _ := s.Resource("thermo")
	waitFor(t, 2*time.Second, func() bool { return thermo.Stats().Counters().Valid >= 2 })

	ch = s.Apply(ctx, mustParse(t, `
resources:
  - {name: thermo, driver: sim, poll_interval: 10ms}
  - {name: spare, driver: sim, disabled: true}
`))
	if len(ch.Applied) != 1 {
		t.Errorf("Expected 1 applied change, got %v", ch.Applied)
	}
	if rec.get("spare").Connected() {
		t.Error("Expected disabled resource to disconnect")
	}
	if state := s.Status().Resources[1]; state.Enabled {
		t.Errorf("Expected spare disabled, got %+v", state)
	}
}

func TestSupervisor_DisabledResourceNeverPolls(t *testing.T) {
	_, reg := newSimRecorder()
	s, err := New(mustParse(t, `
resources:
  - {name: spare, driver: sim, poll_interval: 5ms, disabled: true}
`), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	spare, _ := s.Resource("spare")
	if !spare.Config().PollingPaused {
		t.Fatal("Expected disabled resource to be built with polling paused")
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	time.Sleep(50 * time.Millisecond)
	if c := spare.Stats().Counters(); c.Total != 0 {
		t.Errorf("Expected no polls of a disabled resource, got %+v", c)
	}
}

func TestSupervisor_ApplyKeepsUnchangedPollers(t *testing.T) {
	_, reg := newSimRecorder()
	const cfg = `
resources:
  - {name: thermo, driver: sim, poll_interval: 60ms}
  - {name: spare, driver: sim}
`
	s, err := New(mustParse(t, cfg), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	// Reloads faster than the poll interval must not postpone wakeups.
	same := mustParse(t, cfg)
	for i := 0; i < 40; i++ {
		if ch := s.Apply(ctx, same); len(ch.Applied) != 0 || len(ch.RestartRequired) != 0 {
			t.Fatalf("Expected no changes, got %+v", ch)
		}
		time.Sleep(10 * time.Millisecond)
	}

	thermo, _ := s.Resource("thermo")
	if c := thermo.Stats().Counters(); c.Valid < 2 {
		t.Errorf("Expected periodic reads during reloads, got %+v", c)
	}
}

func TestSupervisor_ApplyStructuralChanges(t *testing.T) {
	_, reg := newSimRecorder()
	s, err := New(mustParse(t, `
resources:
  - {name: a, driver: sim}
  - {name: b, driver: sim}
`), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	ch := s.Apply(ctx, mustParse(t, `
resources:
  - {name: a, driver: sim, options: {latency: 5ms}}
  - {name: c, driver: sim}
pipelines:
  - {name: p, source: a}
`))
	if len(ch.Applied) != 0 {
		t.Errorf("Expected no live changes, got %v", ch.Applied)
	}

	want := []string{"a: driver settings changed", "c: added", "b: removed", "pipelines changed"}
	if len(ch.RestartRequired) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ch.RestartRequired)
	}
	for i := range want {
		if ch.RestartRequired[i] != want[i] {
			t.Errorf("Expected %q, got %q", want[i], ch.RestartRequired[i])
		}
	}
}

func TestSupervisor_StopIsFinal(t *testing.T) {
	rec, reg := newSimRecorder()
	s, err := New(mustParse(t, forwardConfig), WithDrivers(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("Expected Start after Stop to fail")
	}

	for _, name := range []string{"thermo", "archive"} {
		if rec.get(name).Connected() {
			t.Errorf("Expected %s disconnected after Stop", name)
		}
	}
	p, _ := s.Pipeline("samples")
	if r := p.Submit(ctx, []byte("late")); r.OK() {
		t.Error("Expected Submit after Stop to fail")
	}
}

func TestSupervisor_ReportsMetrics(t *testing.T) {
	cfg := telemetry.DefaultConfig().Metrics
	m, err := telemetry.NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	_, reg := newSimRecorder()
	s, err := New(mustParse(t, `
resources:
  - {name: a, driver: sim}
  - {name: b, driver: sim, disabled: true}
`), WithDrivers(reg), WithMetrics(m))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(ctx)

	expected := `
# HELP linkrt_managed_resources Current number of managed resources
# TYPE linkrt_managed_resources gauge
linkrt_managed_resources 2
# HELP linkrt_resource_connected Whether a resource is connected (1) or not (0)
# TYPE linkrt_resource_connected gauge
linkrt_resource_connected{resource="a"} 1
linkrt_resource_connected{resource="b"} 0
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"linkrt_managed_resources", "linkrt_resource_connected"); err != nil {
		t.Error(err)
	}
}

func TestDefaultDrivers(t *testing.T) {
	names := DefaultDrivers().Names()
	if len(names) != 2 || names[0] != "sim" || names[1] != "tcp" {
		t.Errorf("Expected [sim tcp], got %v", names)
	}
}
