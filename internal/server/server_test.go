package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/moodlens/internal/controller"
	"github.com/MrWong99/moodlens/internal/ensemble"
	"github.com/MrWong99/moodlens/internal/health"
	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/pkg/camera"
	cameramock "github.com/MrWong99/moodlens/pkg/camera/mock"
	"github.com/MrWong99/moodlens/pkg/provider/features/stub"
	"github.com/MrWong99/moodlens/pkg/provider/votes/random"
)

func newController(t *testing.T, dev camera.Device, m *observe.Metrics) *controller.Controller {
	t.Helper()
	voter, err := ensemble.New(ensemble.Config{
		Votes:      random.New(random.WithSeed(3)),
		Confidence: ensemble.NewRandomConfidence(0.5, 1.0, 3),
	})
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}
	c, err := controller.New(controller.Config{
		Device:    dev,
		Features:  stub.New(stub.WithSeed(3)),
		Detection: controller.Detection{Period: 10 * time.Millisecond, Voter: voter},
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	t.Cleanup(c.Teardown)
	return c
}

func newTestMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, dev camera.Device, opts ...Option) (*httptest.Server, *controller.Controller) {
	t.Helper()
	m := newTestMetrics(t)
	ctrl := newController(t, dev, m)
	opts = append([]Option{WithMetrics(m)}, opts...)
	srv := httptest.NewServer(New(ctrl, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, ctrl
}

func post(t *testing.T, srv *httptest.Server, path string) controller.State {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status = %d", path, resp.StatusCode)
	}
	var st controller.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func getState(t *testing.T, srv *httptest.Server) controller.State {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET /api/state: %v", err)
	}
	defer resp.Body.Close()
	var st controller.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return st
}

func TestHTTP_EndToEnd(t *testing.T) {
	dev := &cameramock.Device{}
	srv, _ := newTestServer(t, dev)

	if st := getState(t, srv); st.Phase != controller.PhaseNoPermission {
		t.Fatalf("initial phase = %q", st.Phase)
	}

	st := post(t, srv, "/api/camera/start")
	if st.CaptureStatus != controller.CaptureActive || st.SessionID == "" {
		t.Fatalf("after camera start: %+v", st)
	}

	st = post(t, srv, "/api/detection/start")
	if !st.DetectionActive {
		t.Fatalf("after detection start: %+v", st)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st = getState(t, srv)
		if st.LastResult != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no result published over HTTP")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c := st.LastResult.Confidence; c < 0.5 || c >= 1.0 {
		t.Errorf("confidence = %v", c)
	}

	st = post(t, srv, "/api/detection/stop")
	if st.DetectionActive || st.LastResult != nil {
		t.Fatalf("after detection stop: %+v", st)
	}
	st = post(t, srv, "/api/camera/stop")
	if st.CaptureStatus != controller.CaptureNoPermission {
		t.Fatalf("after camera stop: %+v", st)
	}
	if dev.Live() != 0 {
		t.Errorf("live streams = %d, want 0", dev.Live())
	}
}

func TestHTTP_InvalidTransitionIsNoOp(t *testing.T) {
	srv, _ := newTestServer(t, &cameramock.Device{})

	st := post(t, srv, "/api/detection/start")
	if st.DetectionActive || st.Phase != controller.PhaseNoPermission {
		t.Fatalf("detection without camera: %+v", st)
	}
	post(t, srv, "/api/camera/stop")
	post(t, srv, "/api/detection/stop")
}

func TestHTTP_DeniedCamera(t *testing.T) {
	srv, _ := newTestServer(t, &cameramock.Device{OpenErr: camera.ErrPermissionDenied})

	st := post(t, srv, "/api/camera/start")
	if st.Phase != controller.PhasePermissionDenied || st.ErrorMessage == "" {
		t.Fatalf("state = %+v, want permission_denied with message", st)
	}
}

func TestHTTP_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &cameramock.Device{})

	resp, err := http.Get(srv.URL + "/api/camera/start")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET on intent route: status = %d, want 405", resp.StatusCode)
	}
}

func TestHTTP_HealthAndMetrics(t *testing.T) {
	metricsBody := "# moodlens test metrics\n"
	var ctrl *controller.Controller
	h := health.New(health.Flag("controller", func() bool { return ctrl != nil && !ctrl.TornDown() }, "controller torn down"))
	srv, c := newTestServer(t, &cameramock.Device{},
		WithHealth(h),
		WithMetricsHandler("/internal/metrics", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, metricsBody)
		})),
	)
	ctrl = c

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/readyz = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/internal/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != metricsBody {
		t.Errorf("metrics body = %q", body)
	}

	ctrl.Teardown()
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/readyz after teardown = %d, want 503", resp.StatusCode)
	}
}

// ── websocket ────────────────────────────────────────────────────────────────

func dialStream(t *testing.T, srv *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/state/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) outbound {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f outbound
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

func sendIntent(t *testing.T, ctx context.Context, conn *websocket.Conn, intent string) {
	t.Helper()
	data, _ := json.Marshal(inbound{Intent: intent})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads frames until cond holds for a state frame.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, cond func(controller.State) bool) controller.State {
	t.Helper()
	for {
		f := readFrame(t, ctx, conn)
		if f.Type == "state" && f.State != nil && cond(*f.State) {
			return *f.State
		}
	}
}

func TestWebSocket_StreamsStateAndAcceptsIntents(t *testing.T) {
	srv, _ := newTestServer(t, &cameramock.Device{})
	conn, ctx := dialStream(t, srv)

	first := readFrame(t, ctx, conn)
	if first.Type != "state" || first.State == nil || first.State.Phase != controller.PhaseNoPermission {
		t.Fatalf("first frame = %+v, want initial state", first)
	}

	sendIntent(t, ctx, conn, IntentStartCamera)
	readUntil(t, ctx, conn, func(s controller.State) bool { return s.Phase == controller.PhaseCameraActive })

	sendIntent(t, ctx, conn, IntentStartDetection)
	st := readUntil(t, ctx, conn, func(s controller.State) bool { return s.LastResult != nil })
	if !st.DetectionActive || st.Cycles == 0 {
		t.Errorf("detecting state = %+v", st)
	}

	sendIntent(t, ctx, conn, IntentStopDetection)
	readUntil(t, ctx, conn, func(s controller.State) bool { return !s.DetectionActive && s.LastResult == nil })

	sendIntent(t, ctx, conn, IntentStopCamera)
	readUntil(t, ctx, conn, func(s controller.State) bool { return s.Phase == controller.PhaseNoPermission })
}

func TestWebSocket_UnknownIntent(t *testing.T) {
	srv, _ := newTestServer(t, &cameramock.Device{})
	conn, ctx := dialStream(t, srv)
	readFrame(t, ctx, conn)

	sendIntent(t, ctx, conn, "reboot")
	f := readFrame(t, ctx, conn)
	if f.Type != "error" || !strings.Contains(f.Error, "reboot") {
		t.Fatalf("frame = %+v, want unknown intent error", f)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	f = readFrame(t, ctx, conn)
	if f.Type != "error" || !strings.Contains(f.Error, "decode intent") {
		t.Fatalf("frame = %+v, want decode error", f)
	}
}

func TestWebSocket_ClosedOnTeardown(t *testing.T) {
	srv, ctrl := newTestServer(t, &cameramock.Device{})
	conn, ctx := dialStream(t, srv)
	readFrame(t, ctx, conn)

	ctrl.Teardown()

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			t.Fatalf("close status = %v (err %v), want normal closure", websocket.CloseStatus(err), err)
		}
		return
	}
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	m := newTestMetrics(t)
	s := New(newController(t, &cameramock.Device{}, m), WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", "", "", time.Second) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("ListenAndServe did not return after cancel")
	}
}

func TestListenAndServe_BadAddress(t *testing.T) {
	m := newTestMetrics(t)
	s := New(newController(t, &cameramock.Device{}, m), WithMetrics(m))

	err := s.ListenAndServe(context.Background(), "256.0.0.1:bad", "", "", time.Second)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("err = %v, want listen error", err)
	}
}
