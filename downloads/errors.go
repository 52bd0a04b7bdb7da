package downloads

import (
	"errors"
	"fmt"
)

var (
	// ErrStalled is returned when a transfer makes no progress within the stall timeout.
	ErrStalled = errors.New("transfer stalled")
	// ErrTimedOut is returned when a transfer exceeds its overall timeout.
	ErrTimedOut = errors.New("transfer timed out")
	// ErrShortTransfer is returned when a transfer completes below its expected size.
	ErrShortTransfer = errors.New("transfer ended before reaching expected size")
	// ErrInsufficientSpace is returned when the destination volume cannot hold the download.
	ErrInsufficientSpace = errors.New("insufficient disk space")
	// ErrBusy is returned when a pipeline already targets the same destination or archive.
	ErrBusy = errors.New("another installation is using this destination")
	// ErrUnsupportedArchive is returned for archive names without a known format.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	// ErrUnsupportedScheme is returned for URIs no source can fetch.
	ErrUnsupportedScheme = errors.New("unsupported uri scheme")
	// ErrNotFound is returned when the remote object does not exist.
	ErrNotFound = errors.New("remote object not found")
	// ErrChecksumMismatch is returned when an archive does not match its expected digest.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
)

// Stage names a pipeline phase.
type Stage string

const (
	StageDownload Stage = "download"
	StageVerify   Stage = "verify"
	StageUnpack   Stage = "unpack"
)

// StageError is a pipeline failure tagged with the phase it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is a non-success HTTP response.
type HTTPStatusError struct {
	Code   int
	Status string
	URL    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("bad status fetching %s: %s", e.URL, e.Status)
}
