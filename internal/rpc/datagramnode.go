package rpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// DatagramNode wraps a UDP socket, used for field-telemetry multicast.
// Open always binds to the address's port and, when the address is a
// multicast group, joins it; Send writes each datagram to an explicit
// destination rather than through a connected socket.
type DatagramNode struct {
	addr   string // udp://host:port
	iface  *net.Interface
	logger *zap.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	pconn  *ipv4.PacketConn
	inbox  chan Inbound
	closed bool
}

// ParseDatagramAddress parses the udp://host:port form the fabric uses
// for multicast endpoints.
func ParseDatagramAddress(addr string) (host string, port int, err error) {
	trimmed := strings.TrimPrefix(addr, "udp://")
	h, p, err := net.SplitHostPort(trimmed)
	if err != nil {
		return "", 0, fmt.Errorf("rpc: parse datagram address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("rpc: parse datagram port %q: %w", addr, err)
	}
	return h, portNum, nil
}

// NewDatagramNode builds a node bound to addr (udp://host:port). iface
// selects the multicast interface to join on; nil uses the system
// default.
func NewDatagramNode(addr string, iface *net.Interface, logger *zap.Logger) *DatagramNode {
	return &DatagramNode{addr: addr, iface: iface, logger: logger}
}

// Open binds the UDP socket and, if the address is a multicast group,
// joins it for receiving.
func (n *DatagramNode) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	host, port, err := ParseDatagramAddress(n.addr)
	if err != nil {
		return err
	}
	udpAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("rpc: datagram listen %s: %w", n.addr, err)
	}
	pconn := ipv4.NewPacketConn(conn)
	if udpAddr.IP != nil && udpAddr.IP.IsMulticast() {
		if err := pconn.JoinGroup(n.iface, &net.UDPAddr{IP: udpAddr.IP}); err != nil {
			conn.Close()
			return fmt.Errorf("rpc: join multicast group %s: %w", n.addr, err)
		}
	}

	n.conn = conn
	n.pconn = pconn
	n.inbox = make(chan Inbound, inboundQueueDepth)
	n.closed = false
	go n.recvForever(conn, n.inbox)
	return nil
}

func (n *DatagramNode) recvForever(conn *net.UDPConn, inbox chan<- Inbound) {
	buf := make([]byte, 65507)
	for {
		nRead, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if n.logger != nil {
				n.logger.Debug("datagram node recv ended", zap.Error(err))
			}
			return
		}
		payload := make([]byte, nRead)
		copy(payload, buf[:nRead])
		select {
		case inbox <- Inbound{Frames: []Frame{payload}, Address: from.String()}:
		default:
			if n.logger != nil {
				n.logger.Warn("datagram node inbound queue full, dropping packet")
			}
		}
	}
}

// Send writes frames[0] to address (udp://host:port), or to the node's
// configured group address if address is empty.
func (n *DatagramNode) Send(ctx context.Context, frames []Frame, address string) error {
	n.mu.Lock()
	conn := n.conn
	closed := n.closed
	n.mu.Unlock()
	if closed || conn == nil {
		return ErrNodeClosed
	}
	target := address
	if target == "" {
		target = n.addr
	}
	host, port, err := ParseDatagramAddress(target)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("rpc: datagram send: no payload")
	}
	_, err = conn.WriteToUDP(frames[0], &net.UDPAddr{IP: net.ParseIP(host), Port: port})
	if err != nil {
		n.Close()
		return fmt.Errorf("rpc: datagram send: %w", err)
	}
	return nil
}

func (n *DatagramNode) Recv(ctx context.Context) (Inbound, error) {
	n.mu.Lock()
	inbox := n.inbox
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return Inbound{}, ErrNodeClosed
	}
	select {
	case msg, ok := <-inbox:
		if !ok {
			return Inbound{}, ErrNodeClosed
		}
		return msg, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

func (n *DatagramNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func (n *DatagramNode) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
