package speech

import (
	"os"
	"time"

	log "log/slog"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// Earcon plays the short wake sound. Failures are logged, never fatal:
// a missing beep must not break the turn.
func Earcon(path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Warn("earcon missing", "path", path, "err", err)
		return
	}
	defer f.Close()

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		log.Warn("earcon decode failed", "err", err)
		return
	}
	defer streamer.Close()

	if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
		log.Warn("earcon output init failed", "err", err)
		return
	}

	done := make(chan bool)
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		done <- true
	})))
	<-done
}
