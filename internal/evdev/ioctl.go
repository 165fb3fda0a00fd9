package evdev

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request encoding (Linux _IOC macro)
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	IocNone  = 0
	IocWrite = 1
	IocRead  = 2
)

// IOC builds an ioctl request number the way the kernel's _IOC macro does.
func IOC(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// AbsInfo mirrors struct input_absinfo.
type AbsInfo struct {
	Value      int32
	Min        int32
	Max        int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

func evioCGAbs(absCode int) uintptr {
	// EVIOCGABS(abs) = _IOR('E', 0x40 + abs, struct input_absinfo)
	return IOC(IocRead, uint32('E'), uint32(0x40+absCode), uint32(unsafe.Sizeof(AbsInfo{})))
}

func evioCGrab() uintptr {
	// EVIOCGRAB = _IOW('E', 0x90, int)
	return IOC(IocWrite, uint32('E'), uint32(0x90), uint32(unsafe.Sizeof(int32(0))))
}

// Grab takes (on=true) or releases (on=false) exclusive capture of the
// device behind fd. The kernel reads the flag from the ioctl argument itself.
func Grab(fd int, on bool) error {
	var arg uintptr
	if on {
		arg = 1
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGrab(), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// GetAbsInfo reads the range of one absolute axis.
func GetAbsInfo(fd int, absCode int) (AbsInfo, error) {
	var info AbsInfo
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), evioCGAbs(absCode), uintptr(unsafe.Pointer(&info)))
	if errno != 0 {
		return AbsInfo{}, errno
	}
	return info, nil
}
