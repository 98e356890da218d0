package contracts

// DefaultMaxAttempts is the default number of submission attempts per session.
const DefaultMaxAttempts = 3

// SecurityContext is the per-session attempt and abuse metadata.
// It is reset only by starting a new workflow session.
type SecurityContext struct {
	RecentAttempts     int  `json:"recentAttempts"`
	RateLimitWarning   bool `json:"rateLimitWarning"`
	SuspiciousActivity bool `json:"suspiciousActivity"`
}
