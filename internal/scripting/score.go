package scripting

import (
	lua "github.com/yuin/gopher-lua"
)

// ScoreHookName is the Lua global called to adjust AI resource scores.
const ScoreHookName = "score_bonus"

// ScoreHook calls score_bonus(ai_type, resource_type, distance, amount) in the
// AI scope. A missing hook, a non-numeric result or a script error count as
// no bonus.
type ScoreHook struct {
	m *Manager
}

// NewScoreHook adapts m to the AI engine's scoring hook.
//
// Precondition: m must be non-nil.
func NewScoreHook(m *Manager) *ScoreHook {
	return &ScoreHook{m: m}
}

// ScoreBonus returns the scripted bonus for one candidate resource.
func (h *ScoreHook) ScoreBonus(aiType, resourceType string, distance, amount float64) float64 {
	ret, err := h.m.CallHook(ScopeAI, ScoreHookName,
		lua.LString(aiType),
		lua.LString(resourceType),
		lua.LNumber(distance),
		lua.LNumber(amount),
	)
	if err != nil {
		return 0
	}
	if n, ok := ret.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}
