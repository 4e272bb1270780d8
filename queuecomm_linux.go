//go:build linux

package fedcomm

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixgramMQBackend grounds the "named OS message queue with three
// priority levels" requirement (§4.4) on a Unix-domain datagram socket
// per priority, rather than the raw mq_open/mq_send syscalls, which
// this module does not bind directly (see DESIGN.md). Ordering within
// a priority is the kernel socket's own FIFO delivery order.
type unixgramMQBackend struct {
	mb        *inProcessMailbox
	sendConns [4]*net.UnixConn
	recvConns [4]*net.UnixConn
	paths     [4]string
	create    bool
	closed    atomic.Bool
}

func socketPath(name string, priority int) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s.p%d.sock", name, priority))
}

func newRealMQBackend(name string, maxCount, maxSize int, create bool) (mqBackend, error) {
	b := &unixgramMQBackend{create: create}
	if create {
		b.mb = &inProcessMailbox{notEmpty: make(chan struct{}, 1)}
	}

	for p := 1; p <= 3; p++ {
		path := socketPath(name, p)
		b.paths[p] = path
		addr := &net.UnixAddr{Name: path, Net: "unixgram"}

		if create {
			os.Remove(path)
			conn, err := net.ListenUnixgram("unixgram", addr)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.recvConns[p] = conn
			go b.readLoop(p, conn, maxSize)
		} else {
			conn, err := net.DialUnix("unixgram", nil, addr)
			if err != nil {
				b.Close()
				return nil, err
			}
			b.sendConns[p] = conn
		}
	}
	return b, nil
}

func (b *unixgramMQBackend) readLoop(priority int, conn *net.UnixConn, maxSize int) {
	if maxSize <= 0 {
		maxSize = 1 << 20
	}
	buf := make([]byte, maxSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		b.mb.push(priority, append([]byte(nil), buf[:n]...))
	}
}

func (b *unixgramMQBackend) Send(priority int, data []byte) error {
	if priority < 1 || priority > 3 {
		priority = 1
	}
	conn := b.sendConns[priority]
	if conn == nil {
		return fmt.Errorf("fedcomm: queue not opened in send mode")
	}
	_, err := conn.Write(data)
	return err
}

func (b *unixgramMQBackend) Recv(timeout time.Duration) ([]byte, error) {
	if b.mb == nil {
		return nil, fmt.Errorf("fedcomm: queue not opened in receive mode")
	}
	deadline := time.Now().Add(timeout)
	for {
		if data, ok := b.mb.pop(); ok {
			return data, nil
		}
		if b.closed.Load() {
			return nil, errMQTimeout
		}
		remaining := deadline.Sub(time.Now())
		if remaining <= 0 {
			return nil, errMQTimeout
		}
		select {
		case <-b.mb.notEmpty:
		case <-time.After(remaining):
			return nil, errMQTimeout
		}
	}
}

func (b *unixgramMQBackend) Close() error {
	b.closed.Store(true)
	for p := 1; p <= 3; p++ {
		if b.sendConns[p] != nil {
			b.sendConns[p].Close()
		}
		if b.recvConns[p] != nil {
			b.recvConns[p].Close()
			os.Remove(b.paths[p])
		}
	}
	if b.mb != nil {
		select {
		case b.mb.notEmpty <- struct{}{}:
		default:
		}
	}
	return nil
}

// mmapSharedState backs the startup/operating/closing descriptor with
// a shared-memory mapping of a small file under the OS temp
// directory, written only by the rx side.
type mmapSharedState struct {
	data []byte
	f    *os.File
}

func statePath(name string) string {
	return filepath.Join(os.TempDir(), name+".state")
}

func newRealSharedState(name string, create bool) (sharedState, error) {
	path := statePath(name)
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return nil, err
	}
	if create {
		if err := f.Truncate(4); err != nil {
			f.Close()
			return nil, err
		}
	}
	data, err := unix.Mmap(int(f.Fd()), 0, 4, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &mmapSharedState{data: data, f: f}, nil
}

func (s *mmapSharedState) ptr() *int32 {
	return (*int32)(unsafe.Pointer(&s.data[0]))
}

func (s *mmapSharedState) Load() int32 {
	return atomic.LoadInt32(s.ptr())
}

func (s *mmapSharedState) Store(v int32) {
	atomic.StoreInt32(s.ptr(), v)
}

func (s *mmapSharedState) Close() error {
	unix.Munmap(s.data)
	return s.f.Close()
}
