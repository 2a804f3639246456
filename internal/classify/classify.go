// Package classify turns raw sensor snapshots into judgments.
//
// Every function here is pure: same input, same output, no side
// effects. The face check is a deliberately cheap skin-tone pixel
// heuristic, not face detection; it runs on a fixed polling cadence
// instead of per frame, trading detection latency for CPU cost.
// Upgrading it to a real detector would change the violation-rate
// behavior the rest of the system is calibrated against.
package classify

import (
	"strings"

	"proctord/internal/sensor"
)

// FaceAreaThreshold is the minimum fraction of sampled pixels that
// must look like skin for a face to count as present.
const FaceAreaThreshold = 0.01

// AudioLevelThreshold is the level (0-255) above which ambient audio
// counts as suspicious.
const AudioLevelThreshold = 100

// pixelStride controls sparse sampling: every Nth pixel is inspected.
const pixelStride = 4

// FacePresent estimates whether a face is in frame by measuring the
// skin-tone pixel ratio against FaceAreaThreshold.
func FacePresent(frame *sensor.Frame) bool {
	return FacePresentRatio(frame) >= FaceAreaThreshold
}

// FacePresentRatio returns the sampled skin-tone pixel ratio for a
// frame, in [0,1]. A nil or undersized frame yields 0.
func FacePresentRatio(frame *sensor.Frame) float64 {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return 0
	}

	total := 0
	skin := 0
	for i := 0; i+3 < len(frame.Pix); i += 4 * pixelStride {
		r := frame.Pix[i]
		g := frame.Pix[i+1]
		b := frame.Pix[i+2]
		total++
		if isSkinTone(r, g, b) {
			skin++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(skin) / float64(total)
}

// isSkinTone applies the classic RGB skin rule.
func isSkinTone(r, g, b byte) bool {
	if r <= 95 || g <= 40 || b <= 20 {
		return false
	}
	max := r
	if g > max {
		max = g
	}
	if b > max {
		max = b
	}
	min := r
	if g < min {
		min = g
	}
	if b < min {
		min = b
	}
	if max-min <= 15 {
		return false
	}
	diff := int(r) - int(g)
	if diff < 0 {
		diff = -diff
	}
	return diff > 15 && r > g && r > b
}

// AudioSuspicious reports whether a normalized level exceeds the
// suspicion threshold.
func AudioSuspicious(level int) bool {
	return level > AudioLevelThreshold
}

// SuspiciousAction names a matched key combination.
type SuspiciousAction struct {
	// Name is the stable identifier (e.g. "copy").
	Name string
	// Label is the human-readable description recorded on violations.
	Label string
}

// Key combination table. Matching is case-insensitive on the key and
// treats Ctrl and Meta as the same chord modifier, so macOS Cmd
// combinations classify identically.
var keyCombinations = []struct {
	key    string
	ctrl   bool
	alt    bool
	shift  bool
	action SuspiciousAction
}{
	{key: "c", ctrl: true, action: SuspiciousAction{Name: "copy", Label: "copy attempt (Ctrl+C)"}},
	{key: "v", ctrl: true, action: SuspiciousAction{Name: "paste", Label: "paste attempt (Ctrl+V)"}},
	{key: "a", ctrl: true, action: SuspiciousAction{Name: "select_all", Label: "select-all attempt (Ctrl+A)"}},
	{key: "t", ctrl: true, action: SuspiciousAction{Name: "new_tab", Label: "new tab attempt (Ctrl+T)"}},
	{key: "w", ctrl: true, action: SuspiciousAction{Name: "close_tab", Label: "close tab attempt (Ctrl+W)"}},
	{key: "i", ctrl: true, shift: true, action: SuspiciousAction{Name: "dev_tools", Label: "developer tools attempt (Ctrl+Shift+I)"}},
	{key: "f12", action: SuspiciousAction{Name: "dev_tools", Label: "developer tools attempt (F12)"}},
	{key: "u", ctrl: true, action: SuspiciousAction{Name: "view_source", Label: "view source attempt (Ctrl+U)"}},
	{key: "tab", alt: true, action: SuspiciousAction{Name: "alt_tab", Label: "application switch attempt (Alt+Tab)"}},
}

// KeyCombination matches a key event against the fixed table of
// suspicious combinations. The second return is false when the event
// is benign.
func KeyCombination(ev sensor.KeyEvent) (SuspiciousAction, bool) {
	key := strings.ToLower(ev.Key)
	chord := ev.Ctrl || ev.Meta

	for _, combo := range keyCombinations {
		if combo.key != key {
			continue
		}
		if combo.ctrl && !chord {
			continue
		}
		if !combo.ctrl && chord {
			continue
		}
		if combo.alt != ev.Alt {
			continue
		}
		if combo.shift != ev.Shift {
			continue
		}
		return combo.action, true
	}
	return SuspiciousAction{}, false
}
