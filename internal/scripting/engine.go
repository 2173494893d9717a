// Package scripting embeds a gopher-lua VM so zone operators can extend the
// rules engine without recompiling: scripted kill rewards, event reactions,
// and chat commands. Single-goroutine access only (mainloop).
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single Lua VM with the zone script set loaded.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates the VM and loads every script under scriptsDir: the root
// directory first, then the conventional feature subdirectories.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	for _, sub := range []string{"rewards", "events", "commands"} {
		if err := e.loadDir(filepath.Join(scriptsDir, sub)); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// KillContext is the pre-packed data handed to the Lua kill hooks.
type KillContext struct {
	Arena      string
	Killer     string
	Killed     string
	KillerFreq int
	KilledFreq int
	Bounty     int
	Flags      int
	Points     int
}

func (e *Engine) killTable(ctx KillContext) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("arena", lua.LString(ctx.Arena))
	t.RawSetString("killer", lua.LString(ctx.Killer))
	t.RawSetString("killed", lua.LString(ctx.Killed))
	t.RawSetString("killer_freq", lua.LNumber(ctx.KillerFreq))
	t.RawSetString("killed_freq", lua.LNumber(ctx.KilledFreq))
	t.RawSetString("bounty", lua.LNumber(ctx.Bounty))
	t.RawSetString("flags", lua.LNumber(ctx.Flags))
	t.RawSetString("points", lua.LNumber(ctx.Points))
	return t
}

// KillReward calls Lua kill_reward(ctx) and returns the extra points the
// script contributes. Missing function or error contributes nothing.
func (e *Engine) KillReward(ctx KillContext) int {
	fn := e.vm.GetGlobal("kill_reward")
	if fn == lua.LNil {
		return 0
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.killTable(ctx)); err != nil {
		e.log.Error("lua kill_reward error", zap.Error(err))
		return 0
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// OnKill calls Lua on_kill(ctx), if defined. Notification only.
func (e *Engine) OnKill(ctx KillContext) {
	e.notify("on_kill", e.killTable(ctx))
}

// OnFlagWin calls Lua on_flag_win(arena, freq, points), if defined.
func (e *Engine) OnFlagWin(arena string, freq, points int) {
	e.notify("on_flag_win", lua.LString(arena), lua.LNumber(freq), lua.LNumber(points))
}

// OnGoal calls Lua on_goal(arena, player, ball_id), if defined.
func (e *Engine) OnGoal(arena, player string, ballID int) {
	e.notify("on_goal", lua.LString(arena), lua.LString(player), lua.LNumber(ballID))
}

func (e *Engine) notify(name string, args ...lua.LValue) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		e.log.Error("lua event hook error", zap.String("func", name), zap.Error(err))
	}
}

// CommandNames returns the COMMANDS global: the chat commands the loaded
// scripts want routed to on_command.
func (e *Engine) CommandNames() []string {
	tbl, ok := e.vm.GetGlobal("COMMANDS").(*lua.LTable)
	if !ok {
		return nil
	}
	var names []string
	tbl.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			names = append(names, string(s))
		}
	})
	return names
}

// OnCommand calls Lua on_command(name, player, args) and returns the reply
// text, empty for none.
func (e *Engine) OnCommand(name, player, args string) string {
	fn := e.vm.GetGlobal("on_command")
	if fn == lua.LNil {
		return ""
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(name), lua.LString(player), lua.LString(args)); err != nil {
		e.log.Error("lua on_command error", zap.String("command", name), zap.Error(err))
		return ""
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	if result == lua.LNil {
		return ""
	}
	return lua.LVAsString(result)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
