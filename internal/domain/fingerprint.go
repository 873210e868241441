package domain

import (
	"fmt"
	"strings"
	"time"
)

// ThreatLevel упорядочен: LOW < MEDIUM < HIGH.
type ThreatLevel int

const (
	ThreatLow ThreatLevel = iota
	ThreatMedium
	ThreatHigh
)

func (l ThreatLevel) String() string {
	switch l {
	case ThreatMedium:
		return "MEDIUM"
	case ThreatHigh:
		return "HIGH"
	default:
		return "LOW"
	}
}

func (l ThreatLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *ThreatLevel) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "LOW", "":
		*l = ThreatLow
	case "MEDIUM":
		*l = ThreatMedium
	case "HIGH":
		*l = ThreatHigh
	default:
		return fmt.Errorf("unknown threat level %q", string(b))
	}
	return nil
}

// Fingerprint запись об одном взаимодействии с ханипотом. После создания не меняется.
type Fingerprint struct {
	ID               string      `json:"id"`
	Timestamp        time.Time   `json:"timestamp"`
	AgentID          string      `json:"source_agent"` // какой ханипот отвечал
	Message          string      `json:"message"`      // сообщение атакующего как есть
	ThreatIndicators []string    `json:"threat_indicators"`
	ThreatLevel      ThreatLevel `json:"threat_level"`
	SessionID        string      `json:"session_id,omitempty"`

	// Vector заполняется только если эмбеддинг удался. В локальный журнал не пишется:
	// durable-запись происходит раньше, чем вызывается embedding-сервис.
	Vector []float32 `json:"-"`
}

// Exchange полный обмен репликами, который диспетчер отдает рекордеру.
type Exchange struct {
	AgentID    string
	Message    string
	Response   string
	SessionID  string
	Indicators []string // теги, о которых сообщила сама модель через record_interaction
}
