package device

import (
	"bufio"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fieldcore/runtime/internal/buffer"
	"github.com/fieldcore/runtime/pkg/device"
	"github.com/fieldcore/runtime/pkg/protocol"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PollInterval is how often the poller task checks the buffer for
// pending reads/writes to ship to the device.
const PollInterval = 20 * time.Millisecond

// DiscoveryPingInterval is the 1Hz ping cadence used until a device
// answers with SUB_RES.
const DiscoveryPingInterval = time.Second

// heartbeatWait is a one-shot completion handle for an outstanding
// HB_REQ, resolved by the handler task when the matching HB_RES arrives.
type heartbeatWait struct {
	id   uint8
	done chan time.Duration
	sent time.Time
}

// Session owns one connected Smart Device: its serial port, its four
// cooperating tasks (reader/writer/handler/poller), and the shared
// buffer allocated once discovery completes. Grounded on the teacher's
// Serial connection type — reader goroutine, outbound channel, mutex-
// guarded connected flag — generalized here from a radio link to a
// Smart Device session with the protocol's four-task split.
type Session struct {
	port     serial.Port
	portName string
	catalog  device.Catalog
	manager  *buffer.Manager
	logger   *zap.Logger

	inbound  chan protocol.Message
	outbound chan protocol.Message

	mu        sync.Mutex
	uid       device.UID
	buf       *buffer.Buffer
	connected bool

	heartbeatMu sync.Mutex
	heartbeats  map[uint8]*heartbeatWait
}

// Open connects to portName at baud and returns a Session ready to Run.
func Open(portName string, baud int, catalog device.Catalog, manager *buffer.Manager, logger *zap.Logger) (*Session, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", portName, err)
	}
	return &Session{
		port:       port,
		portName:   portName,
		catalog:    catalog,
		manager:    manager,
		logger:     logger,
		inbound:    make(chan protocol.Message, 64),
		outbound:   make(chan protocol.Message, 64),
		connected:  true,
		heartbeats: make(map[uint8]*heartbeatWait),
	}, nil
}

// Run drives the reader, writer, handler, and poller tasks until ctx is
// cancelled or the session disconnects, whichever comes first. On return
// the buffer is marked invalid, deregistered, and all tasks have
// terminated.
func (s *Session) Run(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error { return s.readLoop(gctx, cancel) })
	g.Go(func() error { return s.writeLoop(gctx) })
	g.Go(func() error { return s.handleLoop(gctx) })
	g.Go(func() error { return s.discoverThenPoll(gctx) })

	err := g.Wait()
	s.disconnect()
	return err
}

func (s *Session) disconnect() {
	s.mu.Lock()
	s.connected = false
	buf := s.buf
	uid := s.uid
	s.mu.Unlock()

	s.port.Close()
	if buf != nil {
		_ = buf.SetValid(false)
		if s.manager != nil {
			_ = s.manager.CloseDevice(uid)
		}
	}
}

// readLoop reads bytes until the COBS delimiter, decodes the frame, and
// enqueues it. A decode error produces an ERROR reply written back to
// the device rather than tearing down the session.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelFunc) error {
	defer cancel()
	reader := bufio.NewReader(s.port)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		raw, err := reader.ReadBytes(0x00)
		if err != nil {
			return fmt.Errorf("device: read %s: %w", s.portName, err)
		}
		frame := raw[:len(raw)-1]
		msg, err := protocol.Decode(frame)
		if err != nil {
			s.log("protocol error, replying ERROR", zap.Error(err))
			select {
			case s.outbound <- protocol.NewError(protocol.ErrGenericError):
			default:
			}
			continue
		}
		select {
		case s.inbound <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeLoop drains the outbound queue, encoding each message with its
// delimiter into a fixed stack buffer before writing.
func (s *Session) writeLoop(ctx context.Context) error {
	var stackBuf [512]byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.outbound:
			n, err := protocol.EncodeInto(stackBuf[:], msg)
			if err != nil {
				s.log("encode outbound message failed", zap.Error(err))
				continue
			}
			if _, err := s.port.Write(stackBuf[:n]); err != nil {
				return fmt.Errorf("device: write %s: %w", s.portName, err)
			}
		}
	}
}

// handleLoop dequeues inbound messages and dispatches by type.
func (s *Session) handleLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-s.inbound:
			s.handle(ctx, msg)
		}
	}
}

func (s *Session) handle(ctx context.Context, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeSubRes:
		s.handleSubRes(msg)
	case protocol.TypeDevData:
		s.handleDevData(msg)
	case protocol.TypeHBReq:
		id, err := msg.HBID()
		if err != nil {
			s.log("bad HB_REQ", zap.Error(err))
			return
		}
		select {
		case s.outbound <- protocol.NewHBRes(id):
		case <-ctx.Done():
		}
	case protocol.TypeHBRes:
		id, err := msg.HBID()
		if err != nil {
			return
		}
		s.completeHeartbeat(id)
	case protocol.TypeError:
		code, _ := msg.ErrorCodeOf()
		s.log("device reported error", zap.Uint8("code", uint8(code)))
	default:
		s.log("unexpected message type from device", zap.String("type", msg.Type.String()))
	}
}

func (s *Session) handleSubRes(msg protocol.Message) {
	bitmap, interval, uid, err := msg.SubResFields()
	if err != nil {
		s.log("bad SUB_RES", zap.Error(err))
		return
	}

	deviceType, ok := catalogEntryByID(s.catalog, uid.DeviceID)
	if !ok {
		s.log("unknown device class", zap.Uint16("device_id", uid.DeviceID))
		return
	}
	buf, err := s.manager.OpenDevice(uid, deviceType)
	if err != nil {
		s.log("open device buffer failed", zap.Error(err))
		return
	}
	if err := buf.SetValid(true); err != nil {
		s.log("mark buffer valid failed", zap.Error(err))
		return
	}
	if err := buf.SetSubscription(uid, bitmap); err != nil {
		s.log("set subscription failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.uid = uid
	s.buf = buf
	s.mu.Unlock()

	s.log("device discovered", zap.String("uid", uid.String()), zap.Uint16("interval_ms", interval))
}

func (s *Session) handleDevData(msg protocol.Message) {
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf == nil {
		return
	}
	vals, err := protocol.DecodeParamValues(msg, buf.Params())
	if err != nil {
		s.log("bad DEV_DATA", zap.Error(err))
		return
	}
	if err := buf.UpdateData(vals); err != nil {
		s.log("update_data failed", zap.Error(err))
	}
}

// discoverThenPoll pings at 1Hz until the buffer is allocated by
// handleSubRes, then switches to the steady-state poller that drains
// get_read()/get_write() every PollInterval.
func (s *Session) discoverThenPoll(ctx context.Context) error {
	ticker := time.NewTicker(DiscoveryPingInterval)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		discovered := s.buf != nil
		s.mu.Unlock()
		if discovered {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case s.outbound <- protocol.NewPing():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	poll := time.NewTicker(PollInterval)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			s.pollBuffer(ctx)
		}
	}
}

func (s *Session) pollBuffer(ctx context.Context) {
	s.mu.Lock()
	buf := s.buf
	s.mu.Unlock()
	if buf == nil {
		return
	}
	if msg, ok, err := buf.GetRead(); err == nil && ok {
		select {
		case s.outbound <- msg:
		case <-ctx.Done():
		}
	}
	writes, err := buf.GetWrite()
	if err != nil {
		s.log("get_write failed", zap.Error(err))
		return
	}
	for _, msg := range writes {
		select {
		case s.outbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Heartbeat sends an HB_REQ carrying id and blocks until the matching
// HB_RES arrives or timeout elapses, returning the round-trip duration.
func (s *Session) Heartbeat(ctx context.Context, id uint8, timeout time.Duration) (time.Duration, error) {
	wait := &heartbeatWait{id: id, done: make(chan time.Duration, 1), sent: time.Now()}
	s.heartbeatMu.Lock()
	s.heartbeats[id] = wait
	s.heartbeatMu.Unlock()

	select {
	case s.outbound <- protocol.NewHBReq(id):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case elapsed := <-wait.done:
		return elapsed, nil
	case <-timer.C:
		s.heartbeatMu.Lock()
		delete(s.heartbeats, id)
		s.heartbeatMu.Unlock()
		return 0, fmt.Errorf("device: heartbeat %d timed out", id)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (s *Session) completeHeartbeat(id uint8) {
	s.heartbeatMu.Lock()
	wait, ok := s.heartbeats[id]
	if ok {
		delete(s.heartbeats, id)
	}
	s.heartbeatMu.Unlock()
	if ok {
		wait.done <- time.Since(wait.sent)
	}
}

// UID returns the session's discovered device UID, valid once the
// buffer has been allocated.
func (s *Session) UID() (device.UID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid, s.buf != nil
}

// Send enqueues msg on the outbound queue, used by the manager's
// ping/disable/subscribe/unsubscribe/read RPC routes.
func (s *Session) Send(ctx context.Context, msg protocol.Message) error {
	select {
	case s.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) log(msg string, fields ...zap.Field) {
	if s.logger != nil {
		s.logger.Debug(msg, append(fields, zap.String("port", s.portName))...)
	}
}

func catalogEntryByID(catalog device.Catalog, id uint16) (device.DeviceType, bool) {
	for _, dt := range catalog {
		if dt.ID == id {
			return dt, true
		}
	}
	return device.DeviceType{}, false
}
