package controller

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/moodlens/internal/capture"
	"github.com/MrWong99/moodlens/internal/ensemble"
	"github.com/MrWong99/moodlens/internal/observe"
	"github.com/MrWong99/moodlens/pkg/camera"
	cameramock "github.com/MrWong99/moodlens/pkg/camera/mock"
	"github.com/MrWong99/moodlens/pkg/provider/features"
	featuresmock "github.com/MrWong99/moodlens/pkg/provider/features/mock"
	"github.com/MrWong99/moodlens/pkg/provider/features/stub"
	"github.com/MrWong99/moodlens/pkg/provider/votes/random"
	"github.com/MrWong99/moodlens/pkg/types"
)

type fixture struct {
	c   *Controller
	dev *cameramock.Device
}

func newFixture(t *testing.T, period time.Duration) *fixture {
	t.Helper()
	return newFixtureWith(t, &cameramock.Device{}, stub.New(stub.WithSeed(5)), period)
}

func newFixtureWith(t *testing.T, dev *cameramock.Device, src features.Source, period time.Duration) *fixture {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	voter, err := ensemble.New(ensemble.Config{
		Votes:      random.New(random.WithSeed(5)),
		Confidence: ensemble.NewRandomConfidence(0.5, 1.0, 5),
	})
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}
	c, err := New(Config{
		Device:    dev,
		Features:  src,
		Detection: Detection{Period: period, Voter: voter},
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Teardown)
	return &fixture{c: c, dev: dev}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func validResult(t *testing.T, s State) {
	t.Helper()
	if s.LastResult == nil {
		t.Fatal("LastResult is nil")
	}
	ok := false
	for _, l := range types.DefaultLabels() {
		if s.LastResult.Label == l {
			ok = true
		}
	}
	if !ok {
		t.Errorf("label %q not in label set", s.LastResult.Label)
	}
	if c := s.LastResult.Confidence; c < 0.5 || c >= 1.0 {
		t.Errorf("confidence %v out of [0.5, 1.0)", c)
	}
	if s.LastFeatures == nil || !s.LastFeatures.Valid() {
		t.Errorf("LastFeatures = %v", s.LastFeatures)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	s := f.c.State()
	if s.Phase != PhaseNoPermission || s.CaptureStatus != CaptureNoPermission {
		t.Errorf("state = %+v", s)
	}
	if s.DetectionActive || s.LastResult != nil || s.LastFeatures != nil {
		t.Errorf("detection state not empty: %+v", s)
	}
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	f.c.StartCamera(ctx)
	s := f.c.State()
	if s.Phase != PhaseCameraActive || s.CaptureStatus != CaptureActive {
		t.Fatalf("after StartCamera: %+v", s)
	}
	if s.SessionID == "" {
		t.Error("SessionID empty while camera active")
	}
	if got := f.dev.OpenCalls[0].Constraints; got != camera.DefaultConstraints() {
		t.Errorf("constraints = %+v", got)
	}

	f.c.StartDetection(ctx)
	s = f.c.State()
	if s.Phase != PhaseDetecting || !s.DetectionActive {
		t.Fatalf("after StartDetection: %+v", s)
	}
	validResult(t, s)

	waitFor(t, 2*time.Second, func() bool { return f.c.State().Cycles >= 2 })
	validResult(t, f.c.State())

	f.c.StopDetection()
	s = f.c.State()
	if s.DetectionActive || s.LastResult != nil || s.LastFeatures != nil {
		t.Fatalf("after StopDetection: %+v", s)
	}
	if s.Phase != PhaseCameraActive {
		t.Errorf("Phase = %q, want camera_active", s.Phase)
	}

	f.c.StopCamera()
	s = f.c.State()
	if s.CaptureStatus != CaptureNoPermission || s.Phase != PhaseNoPermission {
		t.Fatalf("after StopCamera: %+v", s)
	}
	if f.dev.Live() != 0 {
		t.Errorf("Live streams = %d, want 0", f.dev.Live())
	}
}

func TestStartDetection_RequiresActiveCamera(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Millisecond)
	f.c.StartDetection(context.Background())
	time.Sleep(10 * time.Millisecond)

	s := f.c.State()
	if s.DetectionActive || s.LastResult != nil {
		t.Fatalf("detection started without camera: %+v", s)
	}
}

func TestStopCamera_ForcesDetectionOff(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2*time.Millisecond)
	ctx := context.Background()
	f.c.StartCamera(ctx)
	f.c.StartDetection(ctx)

	sub, cancel := f.c.Subscribe()
	defer cancel()

	f.c.StopCamera()
	s := f.c.State()
	if s.DetectionActive || s.LastResult != nil || s.LastFeatures != nil {
		t.Fatalf("detection survived StopCamera: %+v", s)
	}

	// No snapshot may show detection active without an active camera.
	for {
		select {
		case snap := <-sub:
			if snap.DetectionActive && snap.CaptureStatus != CaptureActive {
				t.Fatalf("invalid snapshot %+v", snap)
			}
			continue
		case <-time.After(20 * time.Millisecond):
		}
		break
	}

	before := f.c.State()
	time.Sleep(20 * time.Millisecond)
	if after := f.c.State(); after.Cycles != before.Cycles || after.LastResult != nil {
		t.Fatalf("cycles continued after StopCamera: %+v", after)
	}
}

func TestIdempotentStops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()

	// StopDetection while never started.
	before := f.c.State()
	f.c.StopDetection()
	if after := f.c.State(); after != before {
		t.Errorf("StopDetection on idle changed state: %+v -> %+v", before, after)
	}

	f.c.StartCamera(ctx)
	f.c.StartDetection(ctx)
	f.c.StopDetection()
	before = f.c.State()
	f.c.StopDetection()
	if after := f.c.State(); after != before {
		t.Errorf("second StopDetection changed state")
	}

	f.c.StopCamera()
	before = f.c.State()
	f.c.StopCamera()
	if after := f.c.State(); after != before {
		t.Errorf("second StopCamera changed state")
	}
	if n := f.dev.Streams()[0].StopCallCount; n != 1 {
		t.Errorf("stream StopCallCount = %d, want 1", n)
	}
}

func TestStartCamera_Denied(t *testing.T) {
	t.Parallel()

	dev := &cameramock.Device{OpenErr: camera.ErrPermissionDenied}
	f := newFixtureWith(t, dev, stub.New(), time.Hour)
	ctx := context.Background()

	f.c.StartCamera(ctx)
	s := f.c.State()
	if s.Phase != PhasePermissionDenied || s.CaptureStatus != CapturePermissionDenied {
		t.Fatalf("state = %+v", s)
	}
	if s.ErrorMessage != capture.DeniedMessage {
		t.Errorf("ErrorMessage = %q", s.ErrorMessage)
	}

	f.c.StartDetection(ctx)
	if f.c.State().DetectionActive {
		t.Fatal("detection started while denied")
	}

	// Retry succeeds and clears the message.
	dev.OpenErr = nil
	f.c.StartCamera(ctx)
	s = f.c.State()
	if s.Phase != PhaseCameraActive || s.ErrorMessage != "" {
		t.Fatalf("after retry: %+v", s)
	}
}

func TestStartCamera_RequestingVisible(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	dev := &cameramock.Device{Block: block}
	f := newFixtureWith(t, dev, stub.New(), time.Hour)

	done := make(chan struct{})
	go func() {
		f.c.StartCamera(context.Background())
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return f.c.State().Phase == PhaseRequesting })
	close(block)
	<-done
	if p := f.c.State().Phase; p != PhaseCameraActive {
		t.Fatalf("Phase = %q, want camera_active", p)
	}
}

func TestTeardown_ReleasesEverything(t *testing.T) {
	t.Parallel()

	const period = 5 * time.Millisecond
	f := newFixture(t, period)
	ctx := context.Background()
	f.c.StartCamera(ctx)
	f.c.StartDetection(ctx)
	waitFor(t, 2*time.Second, func() bool { return f.c.State().Cycles >= 2 })

	f.c.Teardown()
	if f.dev.Live() != 0 {
		t.Fatalf("Live streams = %d after Teardown", f.dev.Live())
	}
	cycles := f.c.State().Cycles
	time.Sleep(10 * period)
	s := f.c.State()
	if s.Cycles != cycles || s.LastResult != nil || s.DetectionActive {
		t.Fatalf("activity after Teardown: %+v", s)
	}
	if s.CaptureStatus != CaptureNoPermission {
		t.Errorf("CaptureStatus = %q", s.CaptureStatus)
	}
	if !f.c.TornDown() {
		t.Error("TornDown = false")
	}
}

func TestTeardown_IntentsAfterAreNoops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Millisecond)
	f.c.Teardown()
	f.c.Teardown()

	f.c.StartCamera(context.Background())
	f.c.StartDetection(context.Background())
	if n := f.dev.OpenCallCount(); n != 0 {
		t.Fatalf("Open called %d times after Teardown", n)
	}
	if s := f.c.State(); s.Phase != PhaseNoPermission {
		t.Errorf("Phase = %q", s.Phase)
	}
}

func TestTeardown_CancelsPendingAcquisition(t *testing.T) {
	t.Parallel()

	dev := &cameramock.Device{Block: make(chan struct{})}
	f := newFixtureWith(t, dev, stub.New(), time.Hour)

	done := make(chan struct{})
	go func() {
		f.c.StartCamera(context.Background())
		close(done)
	}()
	waitFor(t, 2*time.Second, func() bool { return f.c.State().Phase == PhaseRequesting })

	f.c.Teardown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartCamera still blocked after Teardown")
	}
	if dev.Live() != 0 {
		t.Errorf("Live streams = %d", dev.Live())
	}
	if f.c.State().Phase == PhaseCameraActive {
		t.Error("camera active after Teardown")
	}
}

func TestStopCamera_DuringRequestingReturnsToNoPermission(t *testing.T) {
	t.Parallel()

	dev := &cameramock.Device{Block: make(chan struct{})}
	f := newFixtureWith(t, dev, stub.New(), time.Hour)

	done := make(chan struct{})
	go func() {
		f.c.StartCamera(context.Background())
		close(done)
	}()
	waitFor(t, 2*time.Second, func() bool { return f.c.State().Phase == PhaseRequesting })

	f.c.StopCamera()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartCamera still blocked after StopCamera")
	}
	st := f.c.State()
	if st.Phase != PhaseNoPermission || st.CaptureStatus != CaptureNoPermission {
		t.Errorf("phase = %q, capture = %q, want no_permission for both", st.Phase, st.CaptureStatus)
	}
	if st.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", st.ErrorMessage)
	}
	if dev.Live() != 0 {
		t.Errorf("Live streams = %d, want 0", dev.Live())
	}

	// A fresh request succeeds once the device answers.
	close(dev.Block)
	f.c.StartCamera(context.Background())
	if got := f.c.State().Phase; got != PhaseCameraActive {
		t.Errorf("phase after retry = %q, want camera_active", got)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	sub, cancel := f.c.Subscribe()
	defer cancel()

	first := <-sub
	if first.Phase != PhaseNoPermission {
		t.Fatalf("first snapshot phase = %q", first.Phase)
	}

	f.c.StartCamera(context.Background())
	// Drop-old delivery: the latest snapshot is always available.
	var last State
	for {
		select {
		case last = <-sub:
			continue
		case <-time.After(20 * time.Millisecond):
		}
		break
	}
	if last.Phase != PhaseCameraActive {
		t.Fatalf("latest snapshot phase = %q, want camera_active", last.Phase)
	}

	f.c.Teardown()
	for range sub {
	}
}

func TestSubscribe_CancelClosesChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	sub, cancel := f.c.Subscribe()
	<-sub
	cancel()
	cancel()
	if _, ok := <-sub; ok {
		t.Fatal("channel open after cancel")
	}
}

func TestSetDetection_AppliesAtNextStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, time.Hour)
	ctx := context.Background()
	f.c.StartCamera(ctx)
	f.c.StartDetection(ctx)

	voter, err := ensemble.New(ensemble.Config{Votes: random.New()})
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}
	if err := f.c.SetDetection(Detection{Period: 2 * time.Millisecond, Voter: voter}); err != nil {
		t.Fatalf("SetDetection: %v", err)
	}
	if err := f.c.SetDetection(Detection{}); err == nil {
		t.Error("expected error for missing voter")
	}

	// Running scheduler keeps the hour period.
	time.Sleep(10 * time.Millisecond)
	if n := f.c.State().Cycles; n != 1 {
		t.Fatalf("Cycles = %d, want 1", n)
	}

	f.c.StopDetection()
	f.c.StartDetection(ctx)
	waitFor(t, 2*time.Second, func() bool { return f.c.State().Cycles >= 3 })
}

func TestFeatureErrorKeepsPreviousResult(t *testing.T) {
	t.Parallel()

	src := &featuresmock.Source{}
	f := newFixtureWith(t, &cameramock.Device{}, src, 2*time.Millisecond)
	ctx := context.Background()
	f.c.StartCamera(ctx)
	f.c.StartDetection(ctx)
	first := f.c.State()
	validResult(t, first)

	src.SetErr(context.DeadlineExceeded)
	calls := src.CallCount()
	waitFor(t, 2*time.Second, func() bool { return src.CallCount() >= calls+3 })
	s := f.c.State()
	if !s.DetectionActive {
		t.Fatal("detection stopped after source errors")
	}
	if s.LastResult == nil {
		t.Fatal("failing cycles cleared the last result")
	}
}
