//go:build linux

package internal

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"syscall"
	"unsafe"
)

// Tap is a Linux TAP device used by examples to feed real ethernet frames
// into a stack. Not used by the protocol packages themselves.
type Tap struct {
	fd   int // points to /dev/net/tun device.
	name string
}

func NewTap(name string, ip netip.Prefix) (*Tap, error) {
	if len(name) >= syscall.IFNAMSIZ {
		return nil, errors.New("tap name too large")
	}
	fd, err := syscall.Open("/dev/net/tun", os.O_RDWR, 0777)
	if err != nil {
		return nil, fmt.Errorf("failed to open tun device: %w", err)
	}
	var ifr ifreq
	copy(ifr.name[:], name)
	ifr.setFlags(syscall.IFF_TAP | syscall.IFF_NO_PI)
	err = ioctl(fd, syscall.TUNSETIFF, unsafe.Pointer(&ifr))
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("creating tap interface: %w", err)
	}
	if ip.IsValid() {
		// Bring the interface up and assign an address using the ip command.
		err = exec.Command("ip", "link", "set", "dev", name, "up").Run()
		if err != nil {
			return nil, fmt.Errorf("failed to set ip link: %w", err)
		}
		err = exec.Command("ip", "addr", "add", ip.String(), "dev", name).Run()
		if err != nil {
			return nil, fmt.Errorf("failed to assign IP address: %w", err)
		}
	}
	return &Tap{fd: fd, name: name}, nil
}

func (tap *Tap) Name() string { return tap.name }

func (tap *Tap) Read(b []byte) (int, error) {
	return syscall.Read(tap.fd, b)
}

func (tap *Tap) Write(b []byte) (int, error) {
	return syscall.Write(tap.fd, b)
}

func (tap *Tap) Close() error {
	return syscall.Close(tap.fd)
}

// ifreq mirrors struct ifreq from <linux/if.h>: interface name followed by a
// union large enough for the flags field.
type ifreq struct {
	name  [syscall.IFNAMSIZ]byte
	union [24]byte
}

func (ifr *ifreq) setFlags(flags uint16) {
	*(*uint16)(unsafe.Pointer(&ifr.union[0])) = flags
}

func ioctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
