package turn

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jarvis/internal/nlu"
	"jarvis/internal/visual"
	"jarvis/internal/worker"
	"jarvis/pkg/protocol"
)

type fakeDisplay struct {
	mu      sync.Mutex
	updates []protocol.State
}

func (d *fakeDisplay) Update(s protocol.State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, s)
}

func (d *fakeDisplay) ShowFrame(path, color string) {}

type fakeListener struct {
	mu      sync.Mutex
	text    string
	err     error
	returns int
}

func (l *fakeListener) set(text string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.text, l.err = text, err
}

func (l *fakeListener) returnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.returns
}

func (l *fakeListener) Listen(ctx context.Context, stop <-chan struct{}) (string, error) {
	select {
	case <-stop:
	case <-ctx.Done():
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.returns++
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return l.text, l.err
}

// fakeAnswerer parks a request or sets an image before returning, the
// way the real tool dispatch does during the answering phase.
type fakeAnswerer struct {
	mu     sync.Mutex
	park   visual.Request
	slot   *visual.Slot
	result nlu.Result
	err    error
}

func (a *fakeAnswerer) Answer(ctx context.Context, transcript string) (nlu.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.park != nil {
		a.slot.Set(a.park)
	}
	return a.result, a.err
}

// fakeSpeaker hands the test control over when playback "finishes".
type fakeSpeaker struct {
	mu      sync.Mutex
	dones   []chan error
	stopped int
	spoken  []string
}

func (s *fakeSpeaker) Speak(text string) <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan error, 1)
	s.dones = append(s.dones, ch)
	s.spoken = append(s.spoken, text)
	return ch
}

func (s *fakeSpeaker) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeSpeaker) finish(i int) {
	s.mu.Lock()
	ch := s.dones[i]
	s.mu.Unlock()
	ch <- nil
}

func (s *fakeSpeaker) speakCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dones)
}

func (s *fakeSpeaker) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type spawnCall struct {
	kind string
	spec worker.LaunchSpec
}

type fakeSuper struct {
	mu      sync.Mutex
	spawns  []spawnCall
	stops   []*worker.Handle
	spawnFn func() error
}

func (f *fakeSuper) Spawn(kind string, spec worker.LaunchSpec) (*worker.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnFn != nil {
		if err := f.spawnFn(); err != nil {
			return nil, err
		}
	}
	f.spawns = append(f.spawns, spawnCall{kind: kind, spec: spec})
	return &worker.Handle{Kind: kind}, nil
}

func (f *fakeSuper) Stop(h *worker.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, h)
}

func (f *fakeSuper) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func (f *fakeSuper) lastSpawn() spawnCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawns[len(f.spawns)-1]
}

type fakeRelay struct {
	mu     sync.Mutex
	starts []string
	stops  int
}

func (r *fakeRelay) Start(framePath string, cadence time.Duration, color string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, framePath)
}

func (r *fakeRelay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *fakeRelay) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *fakeRelay) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

type fakeNotifier struct {
	mu     sync.Mutex
	texts  []string
	photos []string
	videos []string
}

func (n *fakeNotifier) SendText(msg string)   { n.mu.Lock(); n.texts = append(n.texts, msg); n.mu.Unlock() }
func (n *fakeNotifier) SendPhoto(path string) { n.mu.Lock(); n.photos = append(n.photos, path); n.mu.Unlock() }
func (n *fakeNotifier) SendVideo(path string) { n.mu.Lock(); n.videos = append(n.videos, path); n.mu.Unlock() }

type fixture struct {
	ctrl     *Controller
	display  *fakeDisplay
	listener *fakeListener
	answerer *fakeAnswerer
	speaker  *fakeSpeaker
	super    *fakeSuper
	relay    *fakeRelay
	notifier *fakeNotifier
	slot     *visual.Slot
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		display:  &fakeDisplay{},
		listener: &fakeListener{},
		speaker:  &fakeSpeaker{},
		super:    &fakeSuper{},
		relay:    &fakeRelay{},
		notifier: &fakeNotifier{},
		slot:     &visual.Slot{},
	}
	f.answerer = &fakeAnswerer{slot: f.slot}

	f.ctrl = NewController(Config{
		Display:    f.display,
		Listener:   f.listener,
		Answerer:   f.answerer,
		Speaker:    f.speaker,
		Super:      f.super,
		Relay:      f.relay,
		Slot:       f.slot,
		Notifier:   f.notifier,
		ScriptDir:  t.TempDir(),
		GraceDelay: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go f.ctrl.Run(ctx)
	t.Cleanup(cancel)

	waitState(t, f.ctrl, StateSleep)
	return f
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("controller stuck in %s, want %s", c.State(), want)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// runTurn pushes one press/release cycle through recognition and waits
// for the answer to start playing.
func (f *fixture) runTurn(t *testing.T, transcript string) {
	t.Helper()
	f.listener.set(transcript, nil)
	before := f.speaker.speakCount()

	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)
	f.ctrl.Release()
	waitFor(t, func() bool { return f.speaker.speakCount() > before }, "answer never reached the speaker")
}

func TestVisualModeStartsOnlyAfterPlaybackFinishes(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Recording five seconds now."}
	f.answerer.park = visual.RecordingRequest{OutputPath: "/tmp/out.mp4", Duration: 5}

	f.runTurn(t, "record a five second video")

	// Playback still going: no worker, no relay.
	assert.Equal(t, 0, f.super.spawnCount())
	assert.Equal(t, 0, f.relay.startCount())
	assert.True(t, f.slot.Pending())

	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	require.Equal(t, 1, f.super.spawnCount())
	call := f.super.lastSpawn()
	assert.Equal(t, "recording", call.kind)
	assert.Contains(t, call.spec.Args, "5")
	assert.Equal(t, 1, f.relay.startCount())
	assert.False(t, f.slot.Pending())
}

func TestWorkerExitTearsDownAfterGrace(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Watching for cats."}
	f.answerer.park = visual.ObserverRequest{Targets: []string{"cat"}}

	f.runTurn(t, "tell me when you see a cat")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	// The controller only honors exits of its own handle.
	f.ctrl.WorkerExited(&worker.Handle{Kind: "observer"}, nil)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateVisualActive, f.ctrl.State())

	f.ctrl.WorkerExited(f.activeHandle(t), nil)
	waitState(t, f.ctrl, StateSleep)
	assert.Equal(t, 1, f.relay.stopCount())
	// Exit was natural, not a Stop from our side.
	assert.Empty(t, f.super.stops)
}

// activeHandle digs the controller's current handle out for exit
// injection, the way the supervisor callback would hold it.
func (f *fixture) activeHandle(t *testing.T) *worker.Handle {
	t.Helper()
	f.super.mu.Lock()
	defer f.super.mu.Unlock()
	require.NotEmpty(t, f.super.spawns)
	return f.ctrl.active
}

func TestButtonPressInterruptsVisualMode(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Playing it back."}
	f.answerer.park = visual.PlaybackRequest{VideoPath: "/tmp/clip.mp4"}

	f.runTurn(t, "play the latest video")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)

	waitFor(t, func() bool {
		f.super.mu.Lock()
		defer f.super.mu.Unlock()
		return len(f.super.stops) == 1
	}, "worker was not stopped on interrupt")
	assert.GreaterOrEqual(t, f.relay.stopCount(), 1)
}

func TestStaleAnswerFromInterruptedTurnIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "First answer."}
	f.answerer.park = visual.DetectionRequest{Targets: []string{"dog"}}

	f.runTurn(t, "watch for dogs")

	// Barge in while the first answer is playing. The parked request
	// must die with its turn.
	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)
	assert.Equal(t, 1, f.speaker.stopCount())
	assert.False(t, f.slot.Pending())

	// The first turn's playback completion arrives late.
	f.speaker.finish(0)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.super.spawnCount())
	assert.Equal(t, StateListening, f.ctrl.State())
}

func TestEmptyRecognitionReturnsToSleep(t *testing.T) {
	f := newFixture(t)
	f.listener.set("", nil)

	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)
	f.ctrl.Release()
	waitState(t, f.ctrl, StateSleep)

	assert.Equal(t, 0, f.speaker.speakCount())
}

func TestObserverTriggerNotifiesOnceWithPhoto(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "On watch."}
	f.answerer.park = visual.ObserverRequest{Targets: []string{"person"}}

	f.runTurn(t, "watch the door")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	img := filepath.Join(t.TempDir(), "sighting.jpg")
	require.NoError(t, os.WriteFile(img, []byte("jpeg"), 0o644))

	f.ctrl.WorkerEvent(f.activeHandle(t), worker.ObjectTriggered{
		Objects:   []string{"person"},
		Count:     1,
		ImagePath: img,
	})

	waitFor(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.texts) == 1 && len(f.notifier.photos) == 1
	}, "trigger did not produce exactly one text and one photo")

	f.notifier.mu.Lock()
	assert.Equal(t, img, f.notifier.photos[0])
	f.notifier.mu.Unlock()
}

func TestVideoSavedEventForwardsPath(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Guarding."}
	f.answerer.park = visual.SentryRequest{Pairs: [][2]string{{"dog", "couch"}}}

	f.runTurn(t, "keep the dog off the couch")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	f.ctrl.WorkerEvent(f.activeHandle(t), worker.VideoSaved{VideoPath: "/tmp/clip-7.mp4"})

	waitFor(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.videos) == 1 && f.notifier.videos[0] == "/tmp/clip-7.mp4"
	}, "saved video was not announced")
}

func TestAnswerTextHiddenWhenVisualRequestPending(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Starting detection."}
	f.answerer.park = visual.DetectionRequest{Targets: []string{"bird"}}

	f.runTurn(t, "look for birds")

	f.display.mu.Lock()
	for _, u := range f.display.updates {
		if u.Text != nil {
			assert.NotEqual(t, "Starting detection.", *u.Text)
		}
	}
	f.display.mu.Unlock()

	// Spoken regardless.
	f.speaker.mu.Lock()
	require.Len(t, f.speaker.spoken, 1)
	assert.Equal(t, "Starting detection.", f.speaker.spoken[0])
	f.speaker.mu.Unlock()
}

func TestGeneratedImageShownAfterPlayback(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{
		Answer:         "Here is your castle.",
		GeneratedImage: "/tmp/gen.png",
	}

	f.runTurn(t, "draw me a castle")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateImageDisplay)

	f.display.mu.Lock()
	last := f.display.updates[len(f.display.updates)-1]
	f.display.mu.Unlock()
	require.NotNil(t, last.Image)
	assert.Equal(t, "/tmp/gen.png", *last.Image)

	// Next press leaves the picture behind and listens again.
	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)
}

func TestInjectedUtteranceInterruptsVisualMode(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Tracking squats."}
	f.answerer.park = visual.PoseRequest{Action: "squat", Count: true, Goal: 10}

	f.runTurn(t, "count my squats")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	f.answerer.mu.Lock()
	f.answerer.park = nil
	f.answerer.result = nlu.Result{Answer: "Stopped."}
	f.answerer.mu.Unlock()

	f.ctrl.InjectUtterance("stop tracking")
	waitFor(t, func() bool { return f.speaker.speakCount() == 2 }, "injected utterance was not answered")

	f.super.mu.Lock()
	stops := len(f.super.stops)
	f.super.mu.Unlock()
	assert.Equal(t, 1, stops)
}

func TestInjectedUtteranceReleasesActiveCapture(t *testing.T) {
	f := newFixture(t)
	f.listener.set("from the microphone", nil)
	f.answerer.result = nlu.Result{Answer: "Okay."}

	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)

	f.ctrl.InjectUtterance("from the voice remote")
	waitFor(t, func() bool { return f.listener.returnCount() == 1 }, "capture kept running after the interrupt")
	waitFor(t, func() bool { return f.speaker.speakCount() == 1 }, "injected utterance was not answered")

	// The abandoned capture's transcript belongs to a dead turn and
	// must not start another answer.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, f.speaker.speakCount())
}

func TestStopAllReleasesActiveCapture(t *testing.T) {
	f := newFixture(t)
	f.listener.set("anything", nil)

	f.ctrl.Press()
	waitState(t, f.ctrl, StateListening)

	f.ctrl.StopAll()
	waitState(t, f.ctrl, StateSleep)
	waitFor(t, func() bool { return f.listener.returnCount() == 1 }, "capture kept running after stop")
	assert.Equal(t, 0, f.speaker.speakCount())
}

func TestStopAllTearsEverythingDown(t *testing.T) {
	f := newFixture(t)
	f.answerer.result = nlu.Result{Answer: "Watching."}
	f.answerer.park = visual.ObserverRequest{Targets: []string{"cat"}, Continuous: true}

	f.runTurn(t, "watch for the cat")
	f.speaker.finish(0)
	waitState(t, f.ctrl, StateVisualActive)

	f.ctrl.StopAll()
	waitState(t, f.ctrl, StateSleep)

	f.super.mu.Lock()
	assert.Len(t, f.super.stops, 1)
	f.super.mu.Unlock()
	assert.GreaterOrEqual(t, f.relay.stopCount(), 1)
}
