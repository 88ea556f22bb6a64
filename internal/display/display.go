// Package display is the client side of the Whisplay display server: it
// pushes partial state patches over a websocket and receives button edge
// events back on the same connection.
package display

import (
	"sync"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"

	"jarvis/pkg/protocol"
)

type Client struct {
	url         string
	reconnDelay time.Duration

	mu   sync.Mutex
	conn *ws.Conn

	// Last transmitted values, for the changed-fields-only contract.
	lastStatus     string
	lastEmoji      string
	lastText       string
	lastRGB        string
	lastImage      string
	lastBrightness int
	sentAny        bool

	onPressed  func()
	onReleased func()
}

func Dial(url string, reconnDelay time.Duration) (*Client, error) {
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	log.Info("connected to display", "url", url)

	c := &Client{
		url:         url,
		reconnDelay: reconnDelay,
		conn:        conn,
	}
	go c.readLoop()
	return c, nil
}

// OnPressed installs the button-press handler, replacing any previous
// one. Handlers run on the read loop goroutine.
func (c *Client) OnPressed(fn func()) {
	c.mu.Lock()
	c.onPressed = fn
	c.mu.Unlock()
}

// OnReleased installs the button-release handler, replacing any
// previous one.
func (c *Client) OnReleased(fn func()) {
	c.mu.Lock()
	c.onReleased = fn
	c.mu.Unlock()
}

// Update transmits the fields of s that differ from the last
// transmitted values.
func (c *Client) Update(s protocol.State) {
	c.apply(s, false)
}

// ShowFrame pushes a frame image unconditionally; the display caches by
// path, so a visual mode's frames must be re-sent even when the path
// repeats. The accent color still goes through the diff.
func (c *Client) ShowFrame(path, color string) {
	c.apply(protocol.State{Image: &path, RGB: &color}, true)
}

func (c *Client) apply(s protocol.State, forceImage bool) {
	c.mu.Lock()
	out := protocol.State{}

	if s.Status != nil && (!c.sentAny || *s.Status != c.lastStatus) {
		out.Status = s.Status
		c.lastStatus = *s.Status
	}
	if s.Emoji != nil && (!c.sentAny || *s.Emoji != c.lastEmoji) {
		out.Emoji = s.Emoji
		c.lastEmoji = *s.Emoji
	}
	if s.Text != nil && (!c.sentAny || *s.Text != c.lastText) {
		out.Text = s.Text
		c.lastText = *s.Text
	}
	if s.RGB != nil && (!c.sentAny || *s.RGB != c.lastRGB) {
		out.RGB = s.RGB
		c.lastRGB = *s.RGB
	}
	if s.Brightness != nil && (!c.sentAny || *s.Brightness != c.lastBrightness) {
		out.Brightness = s.Brightness
		c.lastBrightness = *s.Brightness
	}
	if s.Image != nil && (forceImage || !c.sentAny || *s.Image != c.lastImage) {
		out.Image = s.Image
		c.lastImage = *s.Image
	}
	c.sentAny = true
	conn := c.conn
	c.mu.Unlock()

	if out.Empty() || conn == nil {
		return
	}

	data, err := out.Marshal()
	if err != nil {
		log.Error("display patch marshal failed", "err", err)
		return
	}
	if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
		log.Warn("display write failed", "err", err)
	}
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if wsIsClosed(err) {
				log.Warn("display connection lost, reconnecting", "err", err)
				c.tryReconn()
				continue
			}
			log.Warn("display read failed", "err", err)
			continue
		}

		ev, err := protocol.ParseEvent(msg)
		if err != nil {
			log.Debug("unparsable display frame", "err", err)
			continue
		}

		c.mu.Lock()
		pressed, released := c.onPressed, c.onReleased
		c.mu.Unlock()

		switch ev.Event {
		case protocol.EventButtonPressed:
			if pressed != nil {
				pressed()
			}
		case protocol.EventButtonReleased:
			if released != nil {
				released()
			}
		default:
			log.Debug("unknown display event", "event", ev.Event)
		}
	}
}

func (c *Client) tryReconn() {
	for {
		conn, _, err := ws.DefaultDialer.Dial(c.url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			// The server starts a new session; resend everything next
			// time.
			c.sentAny = false
			c.mu.Unlock()
			log.Info("display reconnected")
			return
		}
		time.Sleep(c.reconnDelay)
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func wsIsClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure) || ws.IsUnexpectedCloseError(err)
}
