package errors

import "syscall"

// errnoByCode maps an ErrorCode to the POSIX errno the kernel filesystem
// bridge must return for it. Codes with no filesystem meaning (e.g. the
// configuration-loading codes) fall back to EIO via Errno's default.
var errnoByCode = map[ErrorCode]syscall.Errno{
	ErrCodeFileNotFound:     syscall.ENOENT,
	ErrCodeObjectNotFound:   syscall.ENOENT,
	ErrCodeBucketNotFound:   syscall.ENOENT,
	ErrCodeDirectoryExists:  syscall.EEXIST,
	ErrCodeAlreadyExists:    syscall.EEXIST,
	ErrCodePathInvalid:      syscall.EINVAL,
	ErrCodeValidationFailed: syscall.EINVAL,
	ErrCodePermissionDenied: syscall.EPERM,
	ErrCodeAccessDenied:     syscall.EPERM,
	ErrCodeNotDirectory:     syscall.ENOTDIR,
	ErrCodeNotEmpty:         syscall.ENOTEMPTY,
	ErrCodeOperationTimeout: syscall.ETIMEDOUT,
	ErrCodeOperationCanceled: syscall.ECANCELED,
	ErrCodeStorageWrite:     syscall.EIO,
	ErrCodeStorageRead:      syscall.EIO,
	ErrCodeConnectionFailed: syscall.EIO,
	ErrCodeNetworkError:     syscall.EIO,
	ErrCodeWorkerBusy:       syscall.EBUSY,
	ErrCodeResourceExhausted: syscall.EBUSY,
	ErrCodePanicRecovered:   syscall.ECANCELED,
}

// Errno returns the POSIX errno this error should surface to the kernel
// filesystem bridge as a negative int, per the error taxonomy in §7:
// not-found -> ENOENT, exists -> EEXIST, invalid argument -> EINVAL,
// permission -> EPERM, type mismatch -> ENOTDIR/ENOTEMPTY,
// busy -> EBUSY, remote failure -> EIO, timeout -> ETIMEDOUT,
// canceled -> ECANCELED. An errno recorded by FromErrno is returned
// as is. Unmapped codes default to EIO.
func (e *ObjectFSError) Errno() int {
	if errno, ok := e.Details["errno"].(int); ok {
		return -errno
	}
	if errno, ok := errnoByCode[e.Code]; ok {
		return -int(errno)
	}
	return -int(syscall.EIO)
}

// ENOATTR is reported via a dedicated code since Linux's syscall package
// does not export a distinct ENOATTR (it aliases ENODATA on most
// platforms); xattr lookups on a missing attribute use this constant.
const ErrCodeNoAttr ErrorCode = "NO_ATTR"

func init() {
	errnoByCode[ErrCodeNoAttr] = syscall.ENODATA
}

// FromErrno builds an ObjectFSError carrying the given errno, for
// propagating a raw kernel-bridge failure (e.g. staging file I/O errors)
// through the same error currency the rest of the core uses.
func FromErrno(component, operation string, errno syscall.Errno) *ObjectFSError {
	err := NewError(ErrCodeOperationFailed, errno.Error())
	err.Component = component
	err.Operation = operation
	err.Details["errno"] = int(errno)
	return err
}
