package smoothing

import "fmt"

// ConfigurationError reports an invalid ablator or certifier configuration,
// detected at construction time.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "smoothing: invalid configuration: " + e.Reason
}

// ShapeError reports a runtime tensor shape that does not match the
// configured geometry.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return "smoothing: shape mismatch: " + e.Reason
}

// DomainError reports an argument outside its valid range, such as a column
// position past the image width.
type DomainError struct {
	Reason string
}

func (e *DomainError) Error() string {
	return "smoothing: domain error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func shapeErrorf(format string, args ...any) error {
	return &ShapeError{Reason: fmt.Sprintf(format, args...)}
}

func domainErrorf(format string, args ...any) error {
	return &DomainError{Reason: fmt.Sprintf(format, args...)}
}
