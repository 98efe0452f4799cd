//go:build unix

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// SocketPair returns two connected stream sockets.
func SocketPair() (net.Conn, net.Conn, error) {
	a, b, err := socketPairFiles()
	if err != nil {
		return nil, nil, err
	}
	defer a.Close()
	defer b.Close()

	ca, err := net.FileConn(a)
	if err != nil {
		return nil, nil, err
	}
	cb, err := net.FileConn(b)
	if err != nil {
		ca.Close()
		return nil, nil, err
	}
	return ca, cb, nil
}

// FromFD wraps an inherited socket descriptor.
func FromFD(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "ipc-fd-"+strconv.Itoa(fd))
	if f == nil {
		return nil, fmt.Errorf("invalid file descriptor %d", fd)
	}
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("fd %d is not a socket: %w", fd, err)
	}
	return conn, nil
}

// ChildFD is the descriptor number the server end has in a spawned child.
const ChildFD = 3

// Spawn starts the privileged broker as a child process holding one end of a
// socket pair as descriptor ChildFD, and returns a client on the other end.
// args should make the child serve that descriptor, e.g. "serve --fd 3".
func Spawn(ctx context.Context, path string, args []string, opts ...ClientOption) (*Client, *exec.Cmd, error) {
	parent, child, err := socketPairFiles()
	if err != nil {
		return nil, nil, err
	}
	defer child.Close()

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.ExtraFiles = []*os.File{child}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		parent.Close()
		return nil, nil, fmt.Errorf("failed to start broker: %w", err)
	}

	conn, err := net.FileConn(parent)
	parent.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}
	return NewClient(conn, opts...), cmd, nil
}

func socketPairFiles() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	return os.NewFile(uintptr(fds[0]), "ipc-socketpair-0"), os.NewFile(uintptr(fds[1]), "ipc-socketpair-1"), nil
}
