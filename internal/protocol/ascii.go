package protocol

import (
	"strconv"
	"strings"
)

// ASCII telemetry keys the firmware emits. Unrecognized keys are ignored.
const (
	keyHeartRate = "MEAS_EVT_HR"
	keySpO2      = "MEAS_EVT_SPO2"
	keyBloodPres = "MEAS_EVT_BP"
	keySport     = "MEAS_EVT_SPORT"
	keyFatigue   = "MEAS_EVT_FATIGUE"
)

// isPrintableASCII reports whether every byte is printable ASCII, tolerating
// embedded CR/LF/NUL and tab. Empty payloads are not ASCII telemetry.
func isPrintableASCII(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	for _, b := range data {
		switch b {
		case '\r', '\n', '\t', 0x00:
			continue
		}
		if b < 0x20 || b > 0x7e {
			return false
		}
	}
	return true
}

// parseASCII decodes line-oriented KEY=VALUE[,VALUE...] telemetry. All
// fields it produces are tagged proprietary: the text protocol is the
// vendor's own. Lines with unknown keys or out-of-range values contribute
// nothing; one frame may carry several lines.
func parseASCII(data []byte) *Update {
	u := &Update{Source: SourceProprietary}

	text := strings.Map(func(r rune) rune {
		if r == 0x00 {
			return '\n'
		}
		return r
	}, string(data))

	for _, line := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '\r' || r == '\n'
	}) {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		applyASCIIPair(u, strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if u.IsEmpty() {
		return nil
	}
	return u
}

// applyASCIIPair maps one recognized KEY=VALUE token onto update fields.
// Vital readings must be strictly positive; a zero heart rate or SpO2 is the
// firmware's way of reporting "no measurement" and is not an update.
func applyASCIIPair(u *Update, key, value string) {
	switch key {
	case keyHeartRate:
		if v, ok := parsePositiveInt(value); ok {
			u.HeartRate = intPtr(v)
		}
	case keySpO2:
		if v, ok := parsePositiveInt(value); ok {
			u.SpO2 = intPtr(v)
		}
	case keyBloodPres:
		parts := strings.Split(value, ",")
		if len(parts) < 2 {
			return
		}
		sys, okSys := parsePositiveInt(strings.TrimSpace(parts[0]))
		dia, okDia := parsePositiveInt(strings.TrimSpace(parts[1]))
		if okSys && okDia {
			u.Systolic = intPtr(sys)
			u.Diastolic = intPtr(dia)
		}
	case keySport:
		// Activity tuple; the step counter is the second field.
		parts := strings.Split(value, ",")
		if len(parts) < 2 {
			return
		}
		if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && v >= 0 {
			u.Steps = intPtr(v)
		}
	case keyFatigue:
		if v, ok := parsePositiveInt(value); ok {
			u.Stress = intPtr(v)
		}
	}
}

func parsePositiveInt(s string) (int, bool) {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
