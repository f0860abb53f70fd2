package auth

import "time"

// SetNow overrides the service clock.
func (s *Service) SetNow(now func() time.Time) { s.nowFunc = now }

// HashToken exposes the refresh digest.
func HashToken(raw string) string { return hashToken(raw) }
