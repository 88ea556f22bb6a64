// Package notify pushes alerts off the device over the mesh radio.
// Sends are fire-and-forget: a dead radio must never stall a turn.
package notify

import (
	"os/exec"
	"path/filepath"

	log "log/slog"

	"jarvis/internal/worker"
)

type Mesh struct {
	// Device is the radio's serial port, empty for CLI autodetect.
	Device string
	// ScriptDir holds the listener script spawned under the supervisor.
	ScriptDir string
}

func NewMesh(device, scriptDir string) *Mesh {
	return &Mesh{Device: device, ScriptDir: scriptDir}
}

func (m *Mesh) SendText(msg string) {
	go m.send(msg)
}

// SendPhoto announces a saved photo. The mesh cannot carry image bytes;
// receivers fetch by path over the LAN.
func (m *Mesh) SendPhoto(path string) {
	go m.send("📷 " + filepath.Base(path))
}

func (m *Mesh) SendVideo(path string) {
	go m.send("🎬 " + filepath.Base(path))
}

func (m *Mesh) send(text string) {
	args := []string{}
	if m.Device != "" {
		args = append(args, "--port", m.Device)
	}
	args = append(args, "--sendtext", text)

	if err := exec.Command("meshtastic", args...).Run(); err != nil {
		log.Warn("mesh send failed", "err", err)
		return
	}
	log.Debug("mesh message sent", "text", text)
}

// ListenerName is the supervisor key for the persistent inbound
// listener.
const ListenerName = "mesh-listener"

// ListenerSpec is the launch spec for the inbound message listener; the
// supervisor restarts it after unexpected exits.
func (m *Mesh) ListenerSpec() worker.LaunchSpec {
	args := []string{filepath.Join(m.ScriptDir, "meshtastic_client.py"), "listen"}
	if m.Device != "" {
		args = append(args, "--device", m.Device)
	}
	return worker.LaunchSpec{Command: "python3", Args: args}
}
