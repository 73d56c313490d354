package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding game-rule tables. Packet
// handlers run on many workers, so VM access serializes on one mutex; the
// scripts are lookup tables, not hot paths.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, sub := range []string{"character"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
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

// Close releases the VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

// CharCreateData holds per-race/class creation data from Lua.
type CharCreateData struct {
	StartMap               int
	StartX, StartY, StartZ float64
	StartAngle             float64
	Level                  int
	StartItems             []int // item type ids granted at creation
}

// GetCharCreateData calls Lua get_char_create_data(race, class). Returns nil
// for a race/class combination the scripts do not define.
func (e *Engine) GetCharCreateData(race, class int) *CharCreateData {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("get_char_create_data")
	if fn == lua.LNil {
		return nil
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(race), lua.LNumber(class)); err != nil {
		e.log.Error("lua get_char_create_data error", zap.Error(err))
		return nil
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return nil
	}

	data := &CharCreateData{
		StartMap:   lInt(rt, "start_map"),
		StartX:     lFloat(rt, "start_x"),
		StartY:     lFloat(rt, "start_y"),
		StartZ:     lFloat(rt, "start_z"),
		StartAngle: lFloat(rt, "start_angle"),
		Level:      lInt(rt, "level"),
	}
	if data.Level == 0 {
		data.Level = 1
	}

	itemsVal := rt.RawGetString("start_items")
	if itemsTbl, ok := itemsVal.(*lua.LTable); ok {
		itemsTbl.ForEach(func(_, v lua.LValue) {
			data.StartItems = append(data.StartItems, int(lua.LVAsNumber(v)))
		})
	}

	return data
}

func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

func lFloat(t *lua.LTable, key string) float64 {
	return float64(lua.LVAsNumber(t.RawGetString(key)))
}
