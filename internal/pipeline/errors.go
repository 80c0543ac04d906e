package pipeline

import "errors"

// ImageError wraps failures of image download, storage or checksum
// verification. These get the application-level retry policy instead of the
// queue's transient-error backoff.
type ImageError struct {
	Err error
}

func (e *ImageError) Error() string { return e.Err.Error() }
func (e *ImageError) Unwrap() error { return e.Err }

// NewImageError classifies err as an image failure. A nil err returns nil.
func NewImageError(err error) error {
	if err == nil {
		return nil
	}
	return &ImageError{Err: err}
}

// IsImageError reports whether err is classified as an image failure.
func IsImageError(err error) bool {
	var ie *ImageError
	return errors.As(err, &ie)
}
