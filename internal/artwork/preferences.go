package artwork

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

//go:embed preferences.json
var defaultPreferences []byte

// PrintingRef identifies one printing by set code and collector number.
type PrintingRef struct {
	Set             string `json:"set"`
	CollectorNumber string `json:"collector_number"`
}

// Preferences is the static artwork configuration: per-card printing
// overrides, consulted before any search, and the ordered artist list used
// for ranking. Later artists rank higher.
type Preferences struct {
	Overrides map[string][]PrintingRef `json:"overrides"`
	Artists   []string                 `json:"artists"`
}

// DefaultPreferences returns the built-in preferences.
func DefaultPreferences() Preferences {
	p, err := parseJSONPreferences(defaultPreferences)
	if err != nil {
		panic(fmt.Sprintf("artwork: embedded preferences: %v", err))
	}
	return p
}

// LoadPreferences reads preferences from a .json or .lua file. A blank
// path yields DefaultPreferences. Sections missing from the file fall back
// to the defaults.
func LoadPreferences(path string) (Preferences, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPreferences(), nil
	}

	var (
		p   Preferences
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		p, err = parseLuaPreferences(path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return Preferences{}, fmt.Errorf("read preferences: %w", err)
		}
		p, err = parseJSONPreferences(data)
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("load preferences %s: %w", path, err)
	}

	defaults := DefaultPreferences()
	if p.Overrides == nil {
		p.Overrides = defaults.Overrides
	}
	if p.Artists == nil {
		p.Artists = defaults.Artists
	}
	return p, nil
}

func parseJSONPreferences(data []byte) (Preferences, error) {
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// parseLuaPreferences evaluates a preferences script without the standard
// libraries and reads its `artists` and `overrides` globals:
//
//	artists = { "Kev Walker", "John Avon" }
//	overrides = {
//	  ["Forest"] = { { set = "unh", collector_number = "140" } },
//	}
func parseLuaPreferences(path string) (Preferences, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	if err := L.DoFile(path); err != nil {
		return Preferences{}, fmt.Errorf("run preferences script: %w", err)
	}

	var p Preferences
	switch v := L.GetGlobal("artists").(type) {
	case *lua.LTable:
		p.Artists = []string{}
		for i := 1; i <= v.Len(); i++ {
			name, ok := v.RawGetInt(i).(lua.LString)
			if !ok {
				return Preferences{}, fmt.Errorf("artists[%d] is not a string", i)
			}
			p.Artists = append(p.Artists, string(name))
		}
	case *lua.LNilType:
	default:
		return Preferences{}, fmt.Errorf("artists must be a table, got %s", v.Type())
	}

	switch v := L.GetGlobal("overrides").(type) {
	case *lua.LTable:
		overrides, err := luaOverrides(v)
		if err != nil {
			return Preferences{}, err
		}
		p.Overrides = overrides
	case *lua.LNilType:
	default:
		return Preferences{}, fmt.Errorf("overrides must be a table, got %s", v.Type())
	}
	return p, nil
}

func luaOverrides(tbl *lua.LTable) (map[string][]PrintingRef, error) {
	out := map[string][]PrintingRef{}
	var err error
	tbl.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("override key %s is not a card name", k.String())
			return
		}
		refs, ok := v.(*lua.LTable)
		if !ok {
			err = fmt.Errorf("overrides[%q] must be a list", string(name))
			return
		}
		for i := 1; i <= refs.Len(); i++ {
			ref, ok := refs.RawGetInt(i).(*lua.LTable)
			if !ok {
				err = fmt.Errorf("overrides[%q][%d] must be a table", string(name), i)
				return
			}
			out[string(name)] = append(out[string(name)], PrintingRef{
				Set:             lua.LVAsString(ref.RawGetString("set")),
				CollectorNumber: lua.LVAsString(ref.RawGetString("collector_number")),
			})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
