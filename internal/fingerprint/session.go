package fingerprint

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SessionContextLimit сколько прошлых действий сессии показывать ханипоту.
const SessionContextLimit = 5

const (
	sessionHeader = "[COORDINATION INTEL - Prior attacker actions this session:]"
	currentMarker = "[Current message:]"
)

// SessionContext собирает сводку прошлых действий атакующего в этой сессии,
// чтобы ханипоты отвечали согласованно. Пустая строка — истории нет.
func (r *Recorder) SessionContext(sessionID string) string {
	if sessionID == "" {
		return ""
	}
	prior, err := r.store.BySession(sessionID, SessionContextLimit)
	if err != nil {
		r.logger.Warn("session context unavailable", zap.String("session_id", sessionID), zap.Error(err))
		return ""
	}
	if len(prior) == 0 {
		return ""
	}

	parts := []string{sessionHeader}
	for _, fp := range prior {
		parts = append(parts, fmt.Sprintf("- To %s: %q [Indicators: %s]",
			fp.AgentID, truncate(fp.Message, 100)+"...", strings.Join(fp.ThreatIndicators, ", ")))
	}
	return strings.Join(parts, "\n")
}

// WithSessionContext добавляет к сообщению сводку сессии, если она есть.
func (r *Recorder) WithSessionContext(sessionID, message string) string {
	ctx := r.SessionContext(sessionID)
	if ctx == "" {
		return message
	}
	return ctx + "\n\n" + currentMarker + "\n" + message
}
