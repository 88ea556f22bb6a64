package turn

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	log "log/slog"

	"jarvis/internal/nlu"
	"jarvis/internal/visual"
	"jarvis/internal/worker"
	"jarvis/pkg/protocol"
)

// Listener records from the button press until stop closes and returns
// the recognized text, empty when nothing was understood.
type Listener interface {
	Listen(ctx context.Context, stop <-chan struct{}) (string, error)
}

// Answerer produces the turn's spoken answer and tool side effects.
type Answerer interface {
	Answer(ctx context.Context, transcript string) (nlu.Result, error)
}

// Speaker voices an answer; the channel resolves on playback
// completion.
type Speaker interface {
	Speak(text string) <-chan error
	StopPlayback()
}

// Display is the screen the controller owns.
type Display interface {
	Update(protocol.State)
	ShowFrame(path, color string)
}

// Supervisor is the slice of the worker supervisor the controller
// drives.
type Supervisor interface {
	Spawn(kind string, spec worker.LaunchSpec) (*worker.Handle, error)
	Stop(h *worker.Handle)
}

// Relay is the frame poll loop feeding the display.
type Relay interface {
	Start(framePath string, cadence time.Duration, color string)
	Stop()
}

// Notifier delivers fire-and-forget alerts off the device.
type Notifier interface {
	SendText(msg string)
	SendPhoto(path string)
	SendVideo(path string)
}

type Config struct {
	Display   Display
	Listener  Listener
	Answerer  Answerer
	Speaker   Speaker
	Super     Supervisor
	Relay     Relay
	Slot      *visual.Slot
	Notifier  Notifier
	ScriptDir string

	// GraceDelay keeps the last frame visible between a worker's exit
	// and the screen teardown.
	GraceDelay time.Duration
	// Earcon, when set, is played as listening starts.
	Earcon func()
}

type Controller struct {
	cfg    Config
	events chan event

	// state is written only by the run loop; atomic so observers can
	// read it.
	state atomic.Int32

	// Actor state: owned by the run loop, never touched elsewhere.
	turnID     uint64
	stopListen chan struct{}
	genImage   string
	active     *worker.Handle
	activeKind visual.Kind
}

func NewController(cfg Config) *Controller {
	if cfg.GraceDelay <= 0 {
		cfg.GraceDelay = time.Second
	}
	return &Controller{
		cfg:    cfg,
		events: make(chan event, 64),
	}
}

// State reports the current phase; only meaningful for logging and
// tests, the loop itself is the single writer.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) { c.state.Store(int32(s)) }

// Event posting surface. Safe from any goroutine.

func (c *Controller) Press()   { c.post(evPressed{}) }
func (c *Controller) Release() { c.post(evReleased{}) }

// StopAll is the hard stop: whatever is running is torn down and the
// controller goes back to sleep.
func (c *Controller) StopAll() { c.post(evStop{}) }

// InjectUtterance feeds recognized text from an out-of-band source (the
// BLE voice remote, mesh commands); it interrupts an active visual
// mode.
func (c *Controller) InjectUtterance(text string) { c.post(evUtterance{text: text}) }

// WorkerExited is wired to the supervisor's exit callback.
func (c *Controller) WorkerExited(h *worker.Handle, _ error) { c.post(evWorkerExited{handle: h}) }

// WorkerEvent is wired to the supervisor's event callback.
func (c *Controller) WorkerEvent(h *worker.Handle, ev worker.Event) {
	c.post(evWorkerEvent{handle: h, ev: ev})
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	default:
		log.Error("event queue full, dropping", "event", fmt.Sprintf("%T", ev))
	}
}

// Run drives the event loop until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.enterSleep()

	for {
		select {
		case <-ctx.Done():
			c.teardownVisual()
			return
		case ev := <-c.events:
			c.dispatch(ctx, ev)
		}
	}
}

// dispatch wraps every handler so one failing turn cannot take the
// loop down with it.
func (c *Controller) dispatch(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked", "event", fmt.Sprintf("%T", ev), "panic", r)
			c.enterSleep()
		}
	}()

	switch e := ev.(type) {
	case evPressed:
		c.onPressed(ctx)
	case evReleased:
		c.onReleased()
	case evStop:
		c.onStop()
	case evUtterance:
		c.onUtterance(ctx, e)
	case evRecognized:
		c.onRecognized(ctx, e)
	case evAnswerReady:
		c.onAnswerReady(e)
	case evPlaybackDone:
		c.onPlaybackDone(e)
	case evWorkerExited:
		c.onWorkerExited(e)
	case evTeardown:
		c.onTeardown(e)
	case evWorkerEvent:
		c.onWorkerEvent(e)
	}
}

func (c *Controller) onPressed(ctx context.Context) {
	log.Debug("button pressed", "state", c.State().String())

	switch c.State() {
	case StateListening:
		return
	case StateRecognizing:
		// Barge-in: the in-flight recognition belongs to a dead turn
		// now.
		c.turnID++
	case StateAnswering:
		c.turnID++
		c.cfg.Speaker.StopPlayback()
		c.cfg.Slot.TakeAndClear()
	case StateVisualActive:
		c.teardownVisual()
	case StateImageDisplay, StateSleep:
	}

	c.startListening(ctx)
}

func (c *Controller) onReleased() {
	if c.State() != StateListening || c.stopListen == nil {
		return
	}
	close(c.stopListen)
	c.stopListen = nil

	c.setState(StateRecognizing)
	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str("Thinking..."),
		Emoji:  protocol.Str("🤔"),
		RGB:    protocol.Str("#FFFF00"),
	})
}

// cancelListen releases the capture stream of an in-flight listen; the
// discarded result is filtered by its stale turn id.
func (c *Controller) cancelListen() {
	if c.stopListen != nil {
		close(c.stopListen)
		c.stopListen = nil
	}
}

func (c *Controller) onStop() {
	log.Info("stop requested", "state", c.State().String())
	c.turnID++
	c.cancelListen()
	c.cfg.Speaker.StopPlayback()
	c.cfg.Slot.TakeAndClear()
	c.teardownVisual()
	c.enterSleep()
}

func (c *Controller) onUtterance(ctx context.Context, e evUtterance) {
	if e.text == "" {
		return
	}
	log.Info("out-of-band utterance", "state", c.State().String())

	if c.State() == StateVisualActive {
		c.teardownVisual()
	}
	c.cancelListen()
	c.cfg.Speaker.StopPlayback()
	c.cfg.Slot.TakeAndClear()

	c.turnID++
	c.post(evRecognized{turn: c.turnID, text: e.text})
	c.setState(StateRecognizing)
}

func (c *Controller) startListening(ctx context.Context) {
	c.turnID++
	turn := c.turnID

	c.setState(StateListening)
	c.stopListen = make(chan struct{})
	stop := c.stopListen

	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str("Listening"),
		Emoji:  protocol.Str("🎤"),
		RGB:    protocol.Str("#00FF00"),
	})
	if c.cfg.Earcon != nil {
		go c.cfg.Earcon()
	}

	go func() {
		text, err := c.cfg.Listener.Listen(ctx, stop)
		c.post(evRecognized{turn: turn, text: text, err: err})
	}()
}

func (c *Controller) onRecognized(ctx context.Context, e evRecognized) {
	if e.turn != c.turnID {
		log.Debug("discarding stale recognition", "turn", e.turn, "current", c.turnID)
		return
	}
	if e.err != nil || e.text == "" {
		if e.err != nil {
			log.Warn("recognition failed", "err", e.err)
		}
		c.enterSleep()
		return
	}

	log.Info("recognized", "text", e.text)
	c.setState(StateAnswering)
	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str("Answering"),
		Emoji:  protocol.Str("💬"),
		RGB:    protocol.Str("#00AAFF"),
	})

	turn := e.turn
	go func() {
		res, err := c.cfg.Answerer.Answer(ctx, e.text)
		c.post(evAnswerReady{turn: turn, res: res, err: err})
	}()
}

func (c *Controller) onAnswerReady(e evAnswerReady) {
	if e.turn != c.turnID {
		log.Debug("discarding stale answer", "turn", e.turn, "current", c.turnID)
		return
	}
	if e.err != nil {
		log.Warn("answering failed", "err", e.err)
		c.enterSleep()
		return
	}

	c.genImage = e.res.GeneratedImage

	// Answer text on screen, unless a camera takeover is pending or
	// already owns it.
	if !c.cfg.Slot.Pending() && c.State() != StateVisualActive {
		c.cfg.Display.Update(protocol.State{Text: protocol.Str(e.res.Answer)})
	}

	turn := e.turn
	done := c.cfg.Speaker.Speak(e.res.Answer)
	go func() {
		err := <-done
		c.post(evPlaybackDone{turn: turn, err: err})
	}()
}

func (c *Controller) onPlaybackDone(e evPlaybackDone) {
	if e.turn != c.turnID {
		log.Debug("discarding stale playback completion", "turn", e.turn, "current", c.turnID)
		return
	}
	if e.err != nil {
		log.Debug("playback ended early", "err", e.err)
	}

	if req, ok := c.cfg.Slot.TakeAndClear(); ok {
		c.activate(req)
		return
	}
	if c.genImage != "" {
		c.showGenerated()
		return
	}
	c.enterSleep()
}

// activate is the deferred handoff: speech is done, the screen belongs
// to the visual mode now.
func (c *Controller) activate(req visual.Request) {
	kind := req.Kind()
	h, err := c.cfg.Super.Spawn(kind.String(), req.LaunchSpec(c.cfg.ScriptDir))
	if err != nil {
		log.Error("visual worker spawn failed", "kind", kind.String(), "err", err)
		c.enterSleep()
		return
	}

	// Handle first, state second: the atomic state store publishes the
	// handle to anyone who observes visual-active.
	c.active = h
	c.activeKind = kind
	c.setState(StateVisualActive)

	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str(visual.Describe(req)),
		RGB:    protocol.Str(kind.Color()),
	})
	c.cfg.Relay.Start(kind.FramePath(), kind.Cadence(), kind.Color())

	log.Info("visual mode active", "kind", kind.String())
}

func (c *Controller) showGenerated() {
	c.setState(StateImageDisplay)
	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str("Here you go"),
		RGB:    protocol.Str("#FFFFFF"),
		Image:  protocol.Str(c.genImage),
	})
	c.genImage = ""
}

func (c *Controller) onWorkerExited(e evWorkerExited) {
	if c.State() != StateVisualActive || e.handle != c.active {
		return
	}

	// Leave the last frame up briefly, then clean the screen.
	log.Info("visual worker exited, scheduling teardown", "kind", e.handle.Kind, "delay", c.cfg.GraceDelay)
	h := e.handle
	time.AfterFunc(c.cfg.GraceDelay, func() {
		c.post(evTeardown{handle: h})
	})
}

func (c *Controller) onTeardown(e evTeardown) {
	if c.State() != StateVisualActive || e.handle != c.active {
		return
	}
	c.cfg.Relay.Stop()
	c.active = nil
	c.enterSleep()
}

func (c *Controller) onWorkerEvent(e evWorkerEvent) {
	switch ev := e.ev.(type) {
	case worker.ObjectTriggered:
		c.cfg.Notifier.SendText(fmt.Sprintf("Spotted %v (sighting #%d)", ev.Objects, ev.Count))
		if ev.ImagePath != "" {
			if _, err := os.Stat(ev.ImagePath); err == nil {
				c.cfg.Notifier.SendPhoto(ev.ImagePath)
			}
		}
	case worker.InteractionTriggered:
		c.cfg.Notifier.SendText(fmt.Sprintf("%s + %s interaction #%d", ev.Object1, ev.Object2, ev.Count))
		if ev.ImagePath != "" {
			if _, err := os.Stat(ev.ImagePath); err == nil {
				c.cfg.Notifier.SendPhoto(ev.ImagePath)
			}
		}
	case worker.PoseTriggered:
		c.cfg.Notifier.SendText(fmt.Sprintf("Pose detected: %s", ev.Action))
	case worker.VideoSaved:
		c.cfg.Notifier.SendVideo(ev.VideoPath)
	case worker.RepProgress:
		if c.State() == StateVisualActive {
			c.cfg.Display.Update(protocol.State{
				Status: protocol.Str(fmt.Sprintf("%s %d/%d", ev.Action, ev.Reps, ev.Goal)),
			})
		}
	case worker.GoalReached:
		// Spoken feedback only; the worker exits on its own and the
		// normal grace teardown follows.
		c.cfg.Speaker.Speak(fmt.Sprintf("Goal reached! %d %s reps done.", ev.Reps, ev.Action))
	}
}

// teardownVisual is the hard cancellation path: relay stopped, worker
// told to die, slot drained.
func (c *Controller) teardownVisual() {
	if c.active != nil {
		c.cfg.Super.Stop(c.active)
		c.active = nil
	}
	c.cfg.Relay.Stop()
	c.cfg.Slot.TakeAndClear()
}

func (c *Controller) enterSleep() {
	c.setState(StateSleep)
	c.genImage = ""
	c.cfg.Display.Update(protocol.State{
		Status: protocol.Str("Hello"),
		Emoji:  protocol.Str("😊"),
		Text:   protocol.Str("Hold the button to talk"),
		RGB:    protocol.Str("#222244"),
	})
}
