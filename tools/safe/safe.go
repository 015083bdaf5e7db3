package safe

import (
	"MaterniChat/logger"
)

// Go starts a goroutine that recovers from panic so a misbehaving callback
// cannot take down the engine's receive loop.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Run invokes f on the current goroutine with the same panic guard.
func Run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Run] panic recovered: %v", r)
		}
	}()
	f()
}

// DefaultString returns *s or fallback when s is nil.
func DefaultString(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// DefaultInt returns *i or fallback when i is nil.
func DefaultInt(i *int, fallback int) int {
	if i == nil {
		return fallback
	}
	return *i
}
