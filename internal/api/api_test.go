package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/sweepstation/internal/config"
	"github.com/banshee-data/sweepstation/internal/dataset"
	"github.com/banshee-data/sweepstation/internal/liveplot"
	"github.com/banshee-data/sweepstation/internal/runstore"
	"github.com/banshee-data/sweepstation/internal/sweep"
	"github.com/banshee-data/sweepstation/internal/timeutil"
)

func strPtr(s string) *string { return &s }

func testStationConfig(t *testing.T) *config.StationConfig {
	t.Helper()
	return &config.StationConfig{
		DataDir: strPtr(t.TempDir()),
		Instruments: []config.InstrumentConfig{
			{
				Name: "dac1",
				Addr: "mock:dac1",
				Parameters: []config.ParameterConfig{
					{Name: "volt", Label: "Output", Unit: "V", GetCmd: "VOLT?", SetCmd: "VOLT %.6g"},
					{Name: "curr", Label: "Current", Unit: "A", GetCmd: "CURR?"},
					{Name: "volt_mV", Label: "Output", Unit: "mV", GetCmd: "VOLT?", SetCmd: "VOLT %.6g", Gain: 1000},
				},
			},
		},
	}
}

func newTestStation(t *testing.T, store *runstore.Store, pub *liveplot.Publisher) *Station {
	t.Helper()
	clock := timeutil.NewMockClock(time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC))
	st, err := NewStation(testStationConfig(t), store, pub, clock)
	if err != nil {
		t.Fatalf("NewStation: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func openTestStore(t *testing.T) *runstore.Store {
	t.Helper()
	s, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("runstore.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStationParameterRegistry(t *testing.T) {
	st := newTestStation(t, nil, nil)

	if _, ok := st.Lookup("dac1.volt"); !ok {
		t.Error("dac1.volt not registered")
	}
	if _, ok := st.Lookup("dac1.missing"); ok {
		t.Error("unknown parameter resolved")
	}
	if got := len(st.ParameterNames()); got != 3 {
		t.Errorf("ParameterNames() has %d entries, want 3", got)
	}

	// the scaled variant drives the same register through the gain
	mv, _ := st.Lookup("dac1.volt_mV")
	if err := mv.Write(500); err != nil {
		t.Fatalf("Write: %v", err)
	}
	v, _ := st.Lookup("dac1.volt")
	got, err := v.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 0.5 {
		t.Errorf("raw volt = %v after writing 500 mV, want 0.5", got)
	}
}

func TestStartSweepRunsToCompletion(t *testing.T) {
	store := openTestStore(t)
	st := newTestStation(t, store, nil)

	runID, err := st.StartSweep(SweepRequest{
		Name:    "api sweep",
		Sweep:   AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 5},
		Measure: []string{"dac1.curr"},
	})
	if err != nil {
		t.Fatalf("StartSweep: %v", err)
	}
	if runID == "" {
		t.Fatal("no run id assigned")
	}
	st.Wait()

	state := st.State()
	if state.Run == nil || state.Run.Status != sweep.StatusCompleted {
		t.Fatalf("state after wait = %+v, want completed", state)
	}
	if state.Run.PointsDone != 5 {
		t.Errorf("PointsDone = %d, want 5", state.Run.PointsDone)
	}

	run, err := store.GetRun(runID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != string(dataset.StatusCompleted) || run.PointsDone != 5 {
		t.Errorf("archived run = %+v", run)
	}

	// data file and report rendered at the run location
	if _, err := os.Stat(filepath.Join(run.Location, "snapshot.json")); err != nil {
		t.Errorf("snapshot missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(run.Location, "report.html")); err != nil {
		t.Errorf("report missing: %v", err)
	}
}

func TestStartSweepRejectsBadRequests(t *testing.T) {
	st := newTestStation(t, nil, nil)

	tests := []struct {
		name string
		req  SweepRequest
	}{
		{"unknown sweep parameter", SweepRequest{
			Sweep:   AxisRequest{Param: "dac1.nope", Start: 0, Stop: 1, Num: 5},
			Measure: []string{"dac1.curr"},
		}},
		{"unknown measured parameter", SweepRequest{
			Sweep:   AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 5},
			Measure: []string{"dac1.nope"},
		}},
		{"no measurements", SweepRequest{
			Sweep: AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 5},
		}},
		{"bad delay", SweepRequest{
			Sweep:   AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 5, Delay: "soon"},
			Measure: []string{"dac1.curr"},
		}},
		{"not writable", SweepRequest{
			Sweep:   AxisRequest{Param: "dac1.curr", Start: 0, Stop: 1, Num: 5},
			Measure: []string{"dac1.curr"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.StartSweep(tt.req); err == nil {
				t.Error("StartSweep succeeded, want error")
			}
		})
	}
}

func TestStartSweepConflict(t *testing.T) {
	st := newTestStation(t, nil, nil)

	// a long first sweep holds the runner busy; mock clock makes the
	// delays free but the run still spans many scheduler yields
	_, err := st.StartSweep(SweepRequest{
		Sweep:   AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 100000},
		Measure: []string{"dac1.curr"},
	})
	if err != nil {
		t.Fatalf("first StartSweep: %v", err)
	}

	_, err = st.StartSweep(SweepRequest{
		Sweep:   AxisRequest{Param: "dac1.volt", Start: 0, Stop: 1, Num: 5},
		Measure: []string{"dac1.curr"},
	})
	// the first run may already have finished on a fast machine, in which
	// case the axis is parked at its stop value and the safety check fires
	if err != nil && err != ErrSweepActive && !errors.Is(err, sweep.ErrSafetyAbort) {
		t.Errorf("second StartSweep error = %v", err)
	}
	st.StopSweep()
	st.Wait()
}

func TestHTTPEndpoints(t *testing.T) {
	store := openTestStore(t)
	st := newTestStation(t, store, nil)
	srv := NewServer(ServerConfig{Address: "localhost:0", Station: st, Store: store})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "127.0.0.1:12345"
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get("/health")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d", rec.Code)
	}

	rec = get("/api/sweep/status")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/sweep/status = %d", rec.Code)
	}

	rec = get("/api/parameters")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/parameters = %d", rec.Code)
	}
	var params struct {
		Parameters []string `json:"parameters"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &params); err != nil {
		t.Fatalf("decode parameters: %v", err)
	}
	if len(params.Parameters) != 3 {
		t.Errorf("parameters = %v", params.Parameters)
	}

	rec = get("/api/runs")
	if rec.Code != http.StatusOK {
		t.Errorf("GET /api/runs = %d", rec.Code)
	}

	rec = get("/api/runs?run_id=missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/runs?run_id=missing = %d, want 404", rec.Code)
	}

	// start over HTTP, then status shows the run
	body := `{"sweep": {"param": "dac1.volt", "start": 0, "stop": 1, "num": 3}, "measure": ["dac1.curr"]}`
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sweep/start", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/sweep/start = %d: %s", rec.Code, rec.Body.String())
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode start response: %v", err)
	}
	st.Wait()

	rec = get("/api/sweep/status")
	var state StationState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if state.Run == nil || state.Run.Status != sweep.StatusCompleted {
		t.Errorf("status after run = %s", rec.Body.String())
	}

	rec = get("/api/runs")
	var runs struct {
		Runs []runstore.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs.Runs) != 1 {
		t.Errorf("archived runs = %d, want 1", len(runs.Runs))
	}

	rec = get("/api/runs/file?run_id=" + started.RunID + "&name=report.html")
	if rec.Code != http.StatusOK {
		t.Errorf("GET run report = %d", rec.Code)
	}
	rec = get("/api/runs/file?run_id=" + started.RunID + "&name=../../../etc/passwd")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("traversal name = %d, want 400", rec.Code)
	}
}

func TestHTTPStartErrors(t *testing.T) {
	st := newTestStation(t, nil, nil)
	srv := NewServer(ServerConfig{Address: "localhost:0", Station: st})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/sweep/start", strings.NewReader(body))
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	if rec := post(`{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rec.Code)
	}
	if rec := post(`{"sweep": {"param": "dac1.nope", "num": 5}, "measure": ["dac1.curr"]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown parameter = %d, want 400", rec.Code)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sweep/start", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET start = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/sweep/stop", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("stop with no sweep = %d, want 409", rec.Code)
	}
}

func TestSweepTailSSE(t *testing.T) {
	pub := liveplot.NewPublisher(liveplot.Config{ListenAddr: "localhost:0"})
	if err := pub.Start(); err != nil {
		t.Fatalf("publisher Start: %v", err)
	}
	defer pub.Stop()

	st := newTestStation(t, nil, pub)
	srv := NewServer(ServerConfig{Address: "localhost:0", Station: st, Publisher: pub})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/sweep/tail")
	if err != nil {
		t.Fatalf("GET tail: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// first line is the ping comment
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": ping") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	go func() {
		// give the subscription a moment, then emit one row
		time.Sleep(50 * time.Millisecond)
		pub.PublishRow(dataset.Coord{Outer: 0, Inner: 2}, map[string]float64{"curr": 0.5})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			var row struct {
				Inner  int                `json:"inner"`
				Values map[string]float64 `json:"values"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &row); err != nil {
				t.Fatalf("decode SSE row: %v", err)
			}
			if row.Inner != 2 || row.Values["curr"] != 0.5 {
				t.Errorf("SSE row = %+v", row)
			}
			return
		}
	}
	t.Fatal("no data event received")
}

func TestSweepTailWithoutPublisher(t *testing.T) {
	st := newTestStation(t, nil, nil)
	srv := NewServer(ServerConfig{Address: "localhost:0", Station: st})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sweep/tail", nil)
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("tail without publisher = %d, want 404", rec.Code)
	}
}
