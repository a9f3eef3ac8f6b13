package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/pkg/device"
	"github.com/fieldcore/runtime/pkg/protocol"
	"go.uber.org/zap"
)

// DefaultBaud is the serial rate every Smart Device port is opened at.
const DefaultBaud = 115200

// DefaultHeartbeatTimeout is used by the heartbeat RPC route when the
// caller omits timeout_sec.
const DefaultHeartbeatTimeout = time.Second

// Manager owns every open Session, keyed by its serial port path, and
// exposes the RPC surface the rest of the runtime uses to discover and
// talk to Smart Devices: list_uids, ping, disable, unsubscribe,
// subscribe, read, heartbeat.
type Manager struct {
	catalog device.Catalog
	buffers *buffer.Manager
	observer Observer
	baud     int
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by port path

	nextHBID uint32
}

// NewManager builds a Manager that opens sessions for ports observer
// reports, typing discovered devices against catalog and allocating
// buffers through buffers.
func NewManager(catalog device.Catalog, buffers *buffer.Manager, observer Observer, baud int, logger *zap.Logger) *Manager {
	if baud <= 0 {
		baud = DefaultBaud
	}
	return &Manager{
		catalog:  catalog,
		buffers:  buffers,
		observer: observer,
		baud:     baud,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Run watches observer for newly connected ports and spawns a session
// per port, removing it from the registry when the session's Run
// returns. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ports := m.observer.Ports(ctx)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case port, ok := <-ports:
			if !ok {
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(port string) {
				defer wg.Done()
				m.runSession(ctx, port)
			}(port)
		}
	}
}

func (m *Manager) runSession(ctx context.Context, port string) {
	session, err := Open(port, m.baud, m.catalog, m.buffers, m.logger)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("open serial port failed", zap.String("port", port), zap.Error(err))
		}
		return
	}

	m.mu.Lock()
	m.sessions[port] = session
	m.mu.Unlock()

	if err := session.Run(ctx); err != nil && m.logger != nil {
		m.logger.Debug("device session ended", zap.String("port", port), zap.Error(err))
	}

	m.mu.Lock()
	delete(m.sessions, port)
	m.mu.Unlock()
}

// sessionsForUID scans the live session set for one matching uid (or
// every discovered session if uid is empty). Sessions discover their UID
// asynchronously via SUB_RES, so callers look it up on demand rather
// than through an explicit registration callback.
func (m *Manager) sessionsForUID(uid string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if got, ok := s.UID(); ok && (uid == "" || got.String() == uid) {
			out = append(out, s)
		}
	}
	return out
}

// ListUIDs returns the decimal UID string of every currently discovered
// device.
func (m *Manager) ListUIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for _, s := range m.sessions {
		if uid, ok := s.UID(); ok {
			out = append(out, uid.String())
		}
	}
	return out
}

// Ping sends PING to the named uid, or every discovered device if uid is
// empty.
func (m *Manager) Ping(ctx context.Context, uid string) error {
	return m.broadcast(ctx, uid, protocol.NewPing())
}

// Disable sends DEV_DISABLE to the named uid, or every discovered device
// if uid is empty.
func (m *Manager) Disable(ctx context.Context, uid string) error {
	return m.broadcast(ctx, uid, protocol.NewDevDisable())
}

// Unsubscribe sends a zero-bitmap SUB_REQ, cancelling periodic DEV_DATA,
// to the named uid or every discovered device if uid is empty.
func (m *Manager) Unsubscribe(ctx context.Context, uid string) error {
	return m.broadcast(ctx, uid, protocol.NewSubReq(0, 0))
}

func (m *Manager) broadcast(ctx context.Context, uid string, msg protocol.Message) error {
	sessions := m.sessionsForUID(uid)
	if len(sessions) == 0 && uid != "" {
		return fmt.Errorf("device: unknown uid %s", uid)
	}
	for _, s := range sessions {
		if err := s.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe sends SUB_REQ for the given bitmap and interval to uid.
func (m *Manager) Subscribe(ctx context.Context, uid string, bitmap uint16, intervalMS uint16) error {
	sessions := m.sessionsForUID(uid)
	if len(sessions) == 0 {
		return fmt.Errorf("device: unknown uid %s", uid)
	}
	return sessions[0].Send(ctx, protocol.NewSubReq(bitmap, intervalMS))
}

// Read requests an immediate DEV_DATA reply for the named parameters of
// uid by setting their bit in the buffer's pending-read bitmap; the
// session's poller task drains and sends it on its next tick.
func (m *Manager) Read(ctx context.Context, uid string, names []string) error {
	buf, ok := m.deviceBuffer(uid)
	if !ok {
		return fmt.Errorf("device: unknown uid %s", uid)
	}
	return buf.SetRead(names...)
}

func (m *Manager) deviceBuffer(uid string) (*buffer.Buffer, bool) {
	sessions := m.sessionsForUID(uid)
	if len(sessions) == 0 {
		return nil, false
	}
	got, ok := sessions[0].UID()
	if !ok {
		return nil, false
	}
	return m.buffers.DeviceBuffer(got)
}

// Heartbeat sends HB_REQ(id) to uid and blocks until the matching HB_RES
// arrives or timeout elapses, returning the elapsed round-trip time in
// seconds. If id is omitted (nil) a fresh id is allocated.
func (m *Manager) Heartbeat(ctx context.Context, uid string, id *uint8, timeout time.Duration) (float64, error) {
	sessions := m.sessionsForUID(uid)
	if len(sessions) == 0 {
		return 0, fmt.Errorf("device: unknown uid %s", uid)
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	hbID := id
	var resolved uint8
	if hbID == nil {
		resolved = uint8(m.allocHBID())
	} else {
		resolved = *hbID
	}
	elapsed, err := sessions[0].Heartbeat(ctx, resolved, timeout)
	if err != nil {
		return 0, err
	}
	return elapsed.Seconds(), nil
}

func (m *Manager) allocHBID() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHBID++
	return m.nextHBID % 256
}
