package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Built-in keys.
var (
	AudioVolume       = NewKey("audio", "volume")
	AudioMute         = NewKey("audio", "mute")
	AudioMicMute      = NewKey("audio", "mic_mute")
	AudioMonoSound    = NewKey("audio", "mono_sound")
	DisplayBrightness = NewKey("display", "brightness")
	DisplayBacklight  = NewKey("display", "backlight_device")
	InputXkbConfig    = NewKey("input", "xkb_config")
	LocaleLang        = NewKey("locale", "lang")
	ThemeAutoSwitch   = NewKey("theme", "auto_switch")
	ThemeIsDark       = NewKey("theme", "is_dark")
	ThemePhase        = NewKey("theme", "phase")
	LocationCoords    = NewKey("location", "coordinates")
	PowerOnBattery    = NewKey("power", "on_battery")
	PowerBattery      = NewKey("power", "battery_level")
)

// Subsystem names understood by the dispatcher.
const (
	SubsystemAudio    = "audio"
	SubsystemDisplay  = "display"
	SubsystemKeyboard = "keyboard"
	SubsystemLocale   = "locale"
	SubsystemTheme    = "theme"
	SubsystemNotify   = "notify"
	SubsystemPower    = "power"
	SubsystemCommand  = "command"
)

// Day-cycle phases and battery levels.
const (
	PhaseDay   = "day"
	PhaseNight = "night"

	BatteryFull     = "full"
	BatteryNormal   = "normal"
	BatteryLow      = "low"
	BatteryCritical = "critical"
)

// ActionNamespace holds one counter key per named system action.
const ActionNamespace = "action"

// BrightnessStep and VolumeStep are the increments used by the built-in
// step actions.
const (
	BrightnessStep = 5
	VolumeStep     = 5
)

// Builtin returns the schemas of every compile-time key.
func Builtin() []Schema {
	return []Schema{
		{
			Key:         AudioVolume,
			Kind:        KindInt,
			Default:     IntValue(50),
			Description: "Output volume in percent",
			Min:         0,
			Max:         150,
			Step:        clampStep(0, 150),
			Plan: func(v Value, _ PlanContext) (Plan, bool) {
				return Plan{SubsystemAudio, "set-volume", map[string]string{"percent": strconv.Itoa(v.Int())}}, true
			},
		},
		{
			Key:         AudioMute,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Output mute",
			Step:        toggleStep,
			Plan: func(v Value, _ PlanContext) (Plan, bool) {
				return Plan{SubsystemAudio, "set-mute", map[string]string{"mute": boolArg(v.Bool())}}, true
			},
		},
		{
			Key:         AudioMicMute,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Input mute",
			Step:        toggleStep,
			Plan: func(v Value, _ PlanContext) (Plan, bool) {
				return Plan{SubsystemAudio, "set-mic-mute", map[string]string{"mute": boolArg(v.Bool())}}, true
			},
		},
		{
			Key:         AudioMonoSound,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Downmix output to mono",
			Step:        toggleStep,
			Plan: func(v Value, _ PlanContext) (Plan, bool) {
				return Plan{SubsystemAudio, "set-mono", map[string]string{"mono": boolArg(v.Bool())}}, true
			},
		},
		{
			Key:         DisplayBrightness,
			Kind:        KindInt,
			Default:     IntValue(100),
			Description: "Backlight brightness in percent",
			Min:         0,
			Max:         100,
			Step:        clampStep(0, 100),
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				dev, _ := pc.lookup(DisplayBacklight)
				return Plan{SubsystemDisplay, "set-brightness", map[string]string{
					"device":  dev.Str(),
					"percent": strconv.Itoa(v.Int()),
				}}, true
			},
		},
		{
			Key:         DisplayBacklight,
			Kind:        KindString,
			Default:     StringValue(""),
			Description: "Backlight device chosen from hotplug events",
			Tree:        TreeState,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if v.Str() == "" {
					return Plan{}, false
				}
				// Carry the configured brightness over to the new device.
				pct, ok := pc.lookup(DisplayBrightness)
				if !ok {
					return Plan{}, false
				}
				return Plan{SubsystemDisplay, "set-brightness", map[string]string{
					"device":  v.Str(),
					"percent": strconv.Itoa(pct.Int()),
				}}, true
			},
		},
		{
			Key:  InputXkbConfig,
			Kind: KindRecord,
			Default: RecordValue(map[string]string{
				"layout": "us", "model": "pc105", "variant": "", "options": "",
			}),
			Description: "Keyboard layout, model, variant and options",
			Validate:    validateXkb,
			Step:        rotateLayouts,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if pc.Origin == OriginLocaled {
					return Plan{}, false
				}
				return Plan{SubsystemKeyboard, "set-x11-keyboard", v.Record()}, true
			},
		},
		{
			Key:         LocaleLang,
			Kind:        KindString,
			Default:     StringValue("C.UTF-8"),
			Description: "System LANG",
			Validate:    validateLang,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if pc.Origin == OriginLocaled {
					return Plan{}, false
				}
				return Plan{SubsystemLocale, "set-locale", map[string]string{"LANG": v.Str()}}, true
			},
		},
		{
			Key:         ThemeAutoSwitch,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Follow sunrise and sunset for dark mode",
			Step:        toggleStep,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if v.Bool() {
					phase, ok := pc.lookup(ThemePhase)
					if !ok {
						return Plan{}, false
					}
					return themePlan(phase.Str() == PhaseNight), true
				}
				dark, _ := pc.lookup(ThemeIsDark)
				return themePlan(dark.Bool()), true
			},
		},
		{
			Key:         ThemeIsDark,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Manual dark mode",
			Step:        toggleStep,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if auto, _ := pc.lookup(ThemeAutoSwitch); auto.Bool() {
					return Plan{}, false
				}
				return themePlan(v.Bool()), true
			},
		},
		{
			Key:         ThemePhase,
			Kind:        KindEnum,
			Default:     EnumValue(PhaseDay),
			Description: "Current day-cycle phase",
			Tree:        TreeState,
			Options:     []string{PhaseDay, PhaseNight},
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				if auto, _ := pc.lookup(ThemeAutoSwitch); !auto.Bool() {
					return Plan{}, false
				}
				return themePlan(v.Str() == PhaseNight), true
			},
		},
		{
			Key:         LocationCoords,
			Kind:        KindRecord,
			Default:     RecordValue(map[string]string{}),
			Description: "Last known latitude and longitude",
			Tree:        TreeState,
			Validate:    validateCoordinates,
		},
		{
			Key:         PowerOnBattery,
			Kind:        KindBool,
			Default:     BoolValue(false),
			Description: "Running on battery power",
			Tree:        TreeState,
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				level := BatteryNormal
				if l, ok := pc.lookup(PowerBattery); ok {
					level = l.Str()
				}
				if v.Bool() {
					return powerPlan("adapter", true, level, notifyArgs("Power", "Running on battery", "normal", "battery")), true
				}
				return powerPlan("adapter", false, level, notifyArgs("Power", "Power adapter connected", "low", "ac-adapter")), true
			},
		},
		{
			Key:         PowerBattery,
			Kind:        KindEnum,
			Default:     EnumValue(BatteryNormal),
			Description: "Coarse battery level",
			Tree:        TreeState,
			Options:     []string{BatteryFull, BatteryNormal, BatteryLow, BatteryCritical},
			Plan: func(v Value, pc PlanContext) (Plan, bool) {
				onBattery := false
				if b, ok := pc.lookup(PowerOnBattery); ok {
					onBattery = b.Bool()
				}
				var note map[string]string
				switch v.Str() {
				case BatteryLow:
					note = notifyArgs("Battery low", "Connect a charger soon", "normal", "battery-low")
				case BatteryCritical:
					note = notifyArgs("Battery critical", "The system will suspend soon", "critical", "battery-caution")
				}
				return powerPlan("battery", onBattery, v.Str(), note), true
			},
		},
	}
}

// ActionKey is the counter key of a named system action.
func ActionKey(id string) Key {
	return NewKey(ActionNamespace, id)
}

// ActionSchema describes the counter of a named action. Each invocation
// steps the counter, so it always differs from the current value and is
// always dispatched.
func ActionSchema(id string) Schema {
	return Schema{
		Key:         ActionKey(id),
		Kind:        KindInt,
		Default:     IntValue(0),
		Description: "Invocations of " + id,
		Tree:        TreeNone,
		Step:        counterStep,
		Plan: func(_ Value, _ PlanContext) (Plan, bool) {
			return Plan{SubsystemCommand, id, nil}, true
		},
	}
}

// BatteryLevelFor maps a charge percentage to a battery level.
func BatteryLevelFor(percent float64) string {
	switch {
	case percent < 10:
		return BatteryCritical
	case percent < 20:
		return BatteryLow
	case percent >= 100:
		return BatteryFull
	default:
		return BatteryNormal
	}
}

// Coordinates builds a location record value.
func Coordinates(lat, lon float64) Value {
	return RecordValue(map[string]string{
		"latitude":  strconv.FormatFloat(lat, 'f', 4, 64),
		"longitude": strconv.FormatFloat(lon, 'f', 4, 64),
	})
}

// ParseCoordinates reads a location record value.
func ParseCoordinates(v Value) (lat, lon float64, err error) {
	lat, err = strconv.ParseFloat(v.Field("latitude"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("latitude: %w", err)
	}
	lon, err = strconv.ParseFloat(v.Field("longitude"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("longitude: %w", err)
	}
	return lat, lon, nil
}

func themePlan(dark bool) Plan {
	scheme := "default"
	if dark {
		scheme = "prefer-dark"
	}
	return Plan{SubsystemTheme, "apply", map[string]string{"scheme": scheme, "dark": boolArg(dark)}}
}

// powerPlan carries the adapter state and battery level together so the
// power handler can pick sounds and run the critical alert from either key.
// note holds the notification to show, if any.
func powerPlan(operation string, onBattery bool, level string, note map[string]string) Plan {
	args := map[string]string{"on_battery": boolArg(onBattery), "level": level}
	for k, v := range note {
		args[k] = v
	}
	return Plan{SubsystemPower, operation, args}
}

func notifyArgs(summary, body, urgency, icon string) map[string]string {
	return map[string]string{
		"summary": summary,
		"body":    body,
		"urgency": urgency,
		"icon":    icon,
	}
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func validateXkb(v Value) error {
	if v.Field("layout") == "" {
		return errors.New("layout must not be empty")
	}
	layouts := strings.Split(v.Field("layout"), ",")
	if variant := v.Field("variant"); variant != "" {
		if n := len(strings.Split(variant, ",")); n > len(layouts) {
			return fmt.Errorf("%d variants for %d layouts", n, len(layouts))
		}
	}
	return nil
}

// rotateLayouts moves the active layout (the first entry) to the end,
// keeping variants aligned, once per delta.
func rotateLayouts(cur Value, delta int) Value {
	layouts := strings.Split(cur.Field("layout"), ",")
	if len(layouts) < 2 {
		return cur
	}
	variants := strings.Split(cur.Field("variant"), ",")
	for len(variants) < len(layouts) {
		variants = append(variants, "")
	}
	n := ((delta % len(layouts)) + len(layouts)) % len(layouts)
	rec := cur.Record()
	rec["layout"] = strings.Join(append(layouts[n:], layouts[:n]...), ",")
	rotated := strings.Join(append(variants[n:], variants[:n]...), ",")
	if strings.Trim(rotated, ",") == "" {
		rotated = ""
	}
	rec["variant"] = rotated
	return RecordValue(rec)
}

func validateLang(v Value) error {
	lang := v.Str()
	base, _, _ := strings.Cut(lang, ".")
	base, _, _ = strings.Cut(base, "@")
	if base == "C" || base == "POSIX" {
		return nil
	}
	if _, err := language.Parse(strings.ReplaceAll(base, "_", "-")); err != nil {
		return fmt.Errorf("invalid locale %q: %w", lang, err)
	}
	return nil
}

func validateCoordinates(v Value) error {
	if len(v.Record()) == 0 {
		return nil
	}
	lat, lon, err := ParseCoordinates(v)
	if err != nil {
		return err
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinates %f,%f out of range", lat, lon)
	}
	return nil
}
