package usecase

import "github.com/rs/zerolog"

// componentLogger derives a child logger tagged with component. nil yields a no-op logger.
func componentLogger(logger *zerolog.Logger, component string) *zerolog.Logger {
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	l := logger.With().Str("component", component).Logger()
	return &l
}
