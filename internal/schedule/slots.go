// internal/schedule/slots.go
package schedule

import (
	"regexp"
	"strconv"
)

const DefaultSlotMinutes = 60

var slotLabelPattern = regexp.MustCompile(`^\s*(\d+)\s*min`)

// SlotDurationFromLabels reads the leading integer of the first "<N>min" label.
func SlotDurationFromLabels(labels []string) int {
	if len(labels) == 0 {
		return DefaultSlotMinutes
	}
	match := slotLabelPattern.FindStringSubmatch(labels[0])
	if match == nil {
		return DefaultSlotMinutes
	}
	minutes, err := strconv.Atoi(match[1])
	if err != nil || minutes <= 0 {
		return DefaultSlotMinutes
	}
	return minutes
}

// GenerateSlots returns slot starts from open while start+duration fits before close.
// A slot that would spill past close is never emitted.
func GenerateSlots(duration, open, close int) []int {
	if duration <= 0 || open >= close {
		return nil
	}
	var starts []int
	for start := open; start+duration <= close; start += duration {
		starts = append(starts, start)
	}
	return starts
}
