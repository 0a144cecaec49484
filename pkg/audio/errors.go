package audio

import "errors"

var (
	// ErrInvalidFormat is returned when a sample rate or channel count is unusable
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrUnsupportedMIME is returned when a fragment carries an encoding we cannot decode
	ErrUnsupportedMIME = errors.New("unsupported audio mime type")

	// ErrUnsupportedFile is returned when a local asset is neither WAV nor MP3
	ErrUnsupportedFile = errors.New("unsupported audio file")

	// ErrShortFragment is returned when a PCM payload is not frame aligned
	ErrShortFragment = errors.New("pcm payload is not frame aligned")
)
