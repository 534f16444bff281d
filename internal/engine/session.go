package engine

import (
	"sync"

	"go.uber.org/zap"
)

// Session owns the single live engine connection for one run of the tool.
// The engine is initialized lazily on first use; Engine is safe to call
// repeatedly and Close releases everything. There is deliberately no global
// instance.
type Session struct {
	mu      sync.Mutex
	logger  *zap.Logger
	factory func(*zap.Logger) (Engine, error)
	eng     Engine
}

// NewSession returns a session backed by DuckDB.
func NewSession(logger *zap.Logger) *Session {
	return &Session{
		logger: logger,
		factory: func(l *zap.Logger) (Engine, error) {
			return NewDuckDB(l)
		},
	}
}

// NewSessionWithFactory returns a session backed by a custom engine factory.
func NewSessionWithFactory(logger *zap.Logger, factory func(*zap.Logger) (Engine, error)) *Session {
	return &Session{logger: logger, factory: factory}
}

// Engine returns the live engine, initializing it on first call.
func (s *Session) Engine() (Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng != nil {
		return s.eng, nil
	}

	eng, err := s.factory(s.logger)
	if err != nil {
		return nil, err
	}
	s.eng = eng
	s.logger.Info("Engine session initialized")
	return s.eng, nil
}

// Close tears down the engine if it was ever initialized. The session can be
// reused afterwards; the next Engine call initializes a fresh engine.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.eng == nil {
		return nil
	}
	err := s.eng.Close()
	s.eng = nil
	return err
}
