package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"jarvis/internal/camera"
	"jarvis/internal/display"
	"jarvis/internal/ipc"
	"jarvis/internal/nlu"
	"jarvis/internal/notify"
	"jarvis/internal/speech"
	"jarvis/internal/turn"
	"jarvis/internal/visual"
	"jarvis/internal/worker"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	displayURL := cli.StringP("display", "d", "ws://localhost:8765", "Display server url")
	scriptDir := cli.StringP("scripts", "s", "/opt/jarvis/workers", "Vision worker script dir")
	mediaDir := cli.StringP("media", "m", "/opt/jarvis/media", "Saved photos and clips dir")
	meshDev := cli.String("mesh", "", "Mesh radio serial port (empty to autodetect)")
	whisperBin := cli.String("whisper", "whisper-cli", "whisper.cpp binary")
	whisperModel := cli.String("model", "/opt/jarvis/models/ggml-base.en.bin", "whisper model path")
	voice := cli.String("voice", "en-gb", "espeak-ng voice")
	earcon := cli.String("earcon", "/opt/jarvis/assets/listen.mp3", "Listening earcon mp3")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: logLevelMap[*logLevel],
	})))

	log.Info("Booting up")

	godotenv.Load(*envFile)
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Error("OPENAI_API_KEY not set")
		os.Exit(1)
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	disp, err := display.Dial(*displayURL, 3*time.Second)
	if err != nil {
		log.Error("Failed to reach display server", "url", *displayURL, "err", err)
		os.Exit(1)
	}
	defer disp.Close()

	log.Debug("Loaded display")

	rec := speech.NewRecorder()
	if err := rec.Init(); err != nil {
		log.Error("Failed to init audio", "err", err)
		os.Exit(1)
	}
	defer rec.Close()

	log.Debug("Loaded recorder")

	if err := os.MkdirAll(*mediaDir, 0o755); err != nil {
		log.Error("Failed to create media dir", "dir", *mediaDir, "err", err)
		os.Exit(1)
	}

	arbiter := camera.NewArbiter()
	slot := &visual.Slot{}

	dispatcher := nlu.NewDispatcher(slot, arbiter, *scriptDir, *mediaDir)
	dispatcher.WireImageGen(client)

	sup := worker.NewSupervisor(time.Second, 5*time.Second)
	defer sup.Shutdown()

	relay := visual.NewRelay(disp)
	mesh := notify.NewMesh(*meshDev, *scriptDir)

	ctrl := turn.NewController(turn.Config{
		Display:  disp,
		Listener: &sttListener{rec: rec, tr: speech.NewTranscriber(*whisperBin, *whisperModel)},
		Answerer: &aiAnswerer{client: client, disp: dispatcher},
		Speaker:  speech.NewSpeaker("espeak-ng", *voice),
		Super:    sup,
		Relay:    relay,
		Slot:     slot,
		Notifier: mesh,

		ScriptDir: *scriptDir,
		Earcon:    func() { speech.Earcon(*earcon) },
	})

	sup.OnExit(ctrl.WorkerExited)
	sup.OnEvent(ctrl.WorkerEvent)

	disp.OnPressed(ctrl.Press)
	disp.OnReleased(ctrl.Release)

	if err := ipc.StartServer(func(msg ipc.ControlMessage) {
		switch msg.Cmd {
		case ipc.CmdPress:
			ctrl.Press()
		case ipc.CmdRelease:
			ctrl.Release()
		case ipc.CmdStop:
			ctrl.StopAll()
		default:
			log.Warn("Unknown command", "cmd", msg.Cmd)
		}
	}); err != nil {
		log.Error("Failed ipc server", "err", err)
		os.Exit(1)
	}

	if _, err := sup.SpawnPersistent(notify.ListenerName, mesh.ListenerSpec()); err != nil {
		log.Warn("Mesh listener unavailable", "err", err)
	}

	// Leftovers from a crash would ghost onto the screen on the next
	// visual mode.
	visual.CleanFrameFiles()

	log.Info("Boot up - successful")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl.Run(ctx)
	log.Info("Shutting down")
}

// sttListener records from the button press until release and feeds the
// clip through whisper.
type sttListener struct {
	rec *speech.Recorder
	tr  *speech.Transcriber
}

func (l *sttListener) Listen(ctx context.Context, stop <-chan struct{}) (string, error) {
	pcm, err := l.rec.RecordUntil(stop, 30*time.Second)
	if err != nil {
		return "", err
	}
	if len(pcm) == 0 {
		return "", nil
	}

	f, err := os.CreateTemp("", "jarvis-utt-*.wav")
	if err != nil {
		return "", err
	}
	f.Close()
	defer os.Remove(f.Name())

	if err := speech.WriteWAV(f.Name(), pcm); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return l.tr.Transcribe(ctx, f.Name())
}

// aiAnswerer runs the tool-calling conversation for a transcript.
type aiAnswerer struct {
	client openai.Client
	disp   *nlu.Dispatcher
}

func (a *aiAnswerer) Answer(ctx context.Context, transcript string) (nlu.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()
	return nlu.Analyze(ctx, a.client, transcript, a.disp)
}
