package core

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/distmon/distmon/internal/config"
	"github.com/distmon/distmon/pkg/distmon/types"
)

// peerConn is one persistent, full-duplex TCP connection to a single peer.
// A dedicated writer goroutine drains out so concurrent Send calls targeting
// the same peer are still delivered in FIFO order; a dedicated reader
// goroutine decodes frames and feeds the channel's shared inbox.
type peerConn struct {
	id   types.ProcessID
	conn net.Conn
	out  chan types.Packet
}

// TCPChannel is the concrete reliable FIFO Channel implementation: one
// persistent net.Conn per unordered peer pair, wire-framed per the external
// interfaces section of the spec. By convention the lower ProcessID dials
// and the higher one accepts, so exactly one connection exists per pair.
type TCPChannel struct {
	id    types.ProcessID
	addrs []string
	log   types.Logger

	listener net.Listener

	mu        sync.Mutex
	clock     types.LamportTime
	peers     map[types.ProcessID]*peerConn
	peerReady map[types.ProcessID]chan struct{}

	inbox chan types.Packet

	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewTCPChannel binds a listener on the process's own advertised address and
// begins connecting to every peer with a larger ProcessID, accepting
// connections from every peer with a smaller one. It returns immediately;
// connections complete asynchronously and Send/SendOthers block until the
// target peer(s) are connected.
func NewTCPChannel(group *config.PeerGroup, log types.Logger) (*TCPChannel, error) {
	if err := group.Validate(); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", group.SelfAddress())
	if err != nil {
		return nil, fmt.Errorf("distmon: listen on %s: %w", group.SelfAddress(), err)
	}

	c := &TCPChannel{
		id:        types.ProcessID(group.Self),
		addrs:     append([]string(nil), group.Peers...),
		log:       log,
		listener:  listener,
		peers:     make(map[types.ProcessID]*peerConn),
		peerReady: make(map[types.ProcessID]chan struct{}),
		inbox:     make(chan types.Packet, 256),
		closed:    make(chan struct{}),
	}

	for i := range c.addrs {
		id := types.ProcessID(i)
		if id == c.id {
			continue
		}
		c.peerReady[id] = make(chan struct{})
	}

	c.wg.Add(1)
	go c.acceptLoop()

	for i := range c.addrs {
		id := types.ProcessID(i)
		if id <= c.id {
			continue
		}
		c.wg.Add(1)
		go c.dial(id, group)
	}

	return c, nil
}

func (c *TCPChannel) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Errorf("accept loop stopped: %v", err)
			}
			return
		}
		go c.handleAccepted(conn)
	}
}

func (c *TCPChannel) handleAccepted(conn net.Conn) {
	id, err := readHandshake(conn)
	if err != nil {
		c.log.Warnf("bad handshake from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}
	c.register(id, conn)
}

func (c *TCPChannel) dial(id types.ProcessID, group *config.PeerGroup) {
	defer c.wg.Done()
	backoff := group.DialBackoff
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", c.addrs[id], group.DialTimeout)
		if err != nil {
			c.log.Debugf("dial peer %d at %s failed, retrying in %s: %v", id, c.addrs[id], backoff, err)
			select {
			case <-time.After(backoff):
			case <-c.closed:
				return
			}
			if backoff < time.Second {
				backoff *= 2
				if backoff > time.Second {
					backoff = time.Second
				}
			}
			continue
		}

		if err := writeHandshake(conn, c.id); err != nil {
			_ = conn.Close()
			continue
		}

		c.register(id, conn)
		return
	}
}

func (c *TCPChannel) register(id types.ProcessID, conn net.Conn) {
	pc := &peerConn{id: id, conn: conn, out: make(chan types.Packet, 256)}

	c.mu.Lock()
	c.peers[id] = pc
	ready := c.peerReady[id]
	c.mu.Unlock()
	close(ready)

	c.wg.Add(2)
	go c.writeLoop(pc)
	go c.readLoop(pc)
}

func (c *TCPChannel) writeLoop(pc *peerConn) {
	defer c.wg.Done()
	w := bufio.NewWriter(pc.conn)
	for {
		select {
		case p := <-pc.out:
			if err := types.EncodePacket(w, p); err != nil {
				c.log.Errorf("encode to peer %d failed: %v", pc.id, err)
				return
			}
			if err := w.Flush(); err != nil {
				c.log.Errorf("flush to peer %d failed: %v", pc.id, err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *TCPChannel) readLoop(pc *peerConn) {
	defer c.wg.Done()
	r := bufio.NewReader(pc.conn)
	for {
		p, err := types.DecodePacket(r)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Debugf("read from peer %d ended: %v", pc.id, err)
			}
			return
		}

		c.mu.Lock()
		if p.LamportTime > c.clock {
			c.clock = p.LamportTime
		}
		c.clock++
		c.mu.Unlock()

		select {
		case c.inbox <- p:
		case <-c.closed:
			return
		}
	}
}

func (c *TCPChannel) waitForPeer(id types.ProcessID) (*peerConn, error) {
	c.mu.Lock()
	ready, known := c.peerReady[id]
	c.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("distmon: no such peer %d", id)
	}

	select {
	case <-ready:
	case <-c.closed:
		return nil, ErrChannelClosed
	}

	c.mu.Lock()
	pc := c.peers[id]
	c.mu.Unlock()
	return pc, nil
}

func (c *TCPChannel) Send(msgType types.MessageType, message []byte, recipient types.ProcessID) (types.Packet, error) {
	return c.SendMulti(msgType, message, map[types.ProcessID]struct{}{recipient: {}})
}

// SendMulti ticks the logical clock exactly once for this logical send
// event and delivers the resulting Packet to every recipient, in the order
// each target peer's writer happens to drain it.
func (c *TCPChannel) SendMulti(msgType types.MessageType, message []byte, recipients map[types.ProcessID]struct{}) (types.Packet, error) {
	targets := make([]*peerConn, 0, len(recipients))
	for id := range recipients {
		if id == c.id {
			continue
		}
		pc, err := c.waitForPeer(id)
		if err != nil {
			return types.Packet{}, err
		}
		targets = append(targets, pc)
	}

	c.mu.Lock()
	c.clock++
	p := types.Packet{LamportTime: c.clock, Source: c.id, Type: msgType, Message: message}
	c.mu.Unlock()

	for _, pc := range targets {
		select {
		case pc.out <- p:
		case <-c.closed:
			return types.Packet{}, ErrChannelClosed
		}
	}
	return p, nil
}

func (c *TCPChannel) SendOthers(msgType types.MessageType, message []byte) (types.Packet, error) {
	recipients := make(map[types.ProcessID]struct{}, len(c.addrs)-1)
	for i := range c.addrs {
		id := types.ProcessID(i)
		if id != c.id {
			recipients[id] = struct{}{}
		}
	}
	return c.SendMulti(msgType, message, recipients)
}

func (c *TCPChannel) Receive() (types.Packet, error) {
	p, ok := <-c.inbox
	if !ok {
		return types.Packet{}, ErrChannelClosed
	}
	return p, nil
}

func (c *TCPChannel) ProcessID() types.ProcessID { return c.id }
func (c *TCPChannel) NumberOfProcesses() int     { return len(c.addrs) }

func (c *TCPChannel) CurrentLamportTime() types.LamportTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock
}

func (c *TCPChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.listener.Close()

		c.mu.Lock()
		peers := make([]*peerConn, 0, len(c.peers))
		for _, pc := range c.peers {
			peers = append(peers, pc)
		}
		c.mu.Unlock()

		for _, pc := range peers {
			_ = pc.conn.Close()
		}

		c.wg.Wait()
		close(c.inbox)
	})
	return nil
}

func writeHandshake(conn net.Conn, id types.ProcessID) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(id))
	_, err := conn.Write(buf)
	return err
}

func readHandshake(conn net.Conn) (types.ProcessID, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return 0, err
	}
	return types.ProcessID(int32(binary.LittleEndian.Uint32(buf))), nil
}
