package scripting

import (
	"math"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RegisterModules registers the engine table into L:
//
//	engine.log(msg)                 debug log line tagged with the script
//	engine.distance(x1, y1, x2, y2) Euclidean distance
//	engine.clamp(v, lo, hi)
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func (m *Manager) RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetFuncs(engine, map[string]lua.LGFunction{
		"log": func(L *lua.LState) int {
			m.logger.Debug("lua", zap.String("msg", L.CheckString(1)))
			return 0
		},
		"distance": func(L *lua.LState) int {
			dx := float64(L.CheckNumber(3) - L.CheckNumber(1))
			dy := float64(L.CheckNumber(4) - L.CheckNumber(2))
			L.Push(lua.LNumber(math.Hypot(dx, dy)))
			return 1
		},
		"clamp": func(L *lua.LState) int {
			v, lo, hi := L.CheckNumber(1), L.CheckNumber(2), L.CheckNumber(3)
			L.Push(lua.LNumber(math.Max(float64(lo), math.Min(float64(hi), float64(v)))))
			return 1
		},
	})
	L.SetGlobal("engine", engine)
}
