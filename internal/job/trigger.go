package job

import (
	"fmt"
	"strings"
)

// Trigger names the event that started an analysis.
type Trigger uint8

const (
	TriggerEditorOpen Trigger = iota
	TriggerEditorChange
	TriggerSave
	TriggerAction
	TriggerCompilation
	TriggerConfigChange
	TriggerBinding
)

var triggerNames = [...]string{
	TriggerEditorOpen:   "editor-open",
	TriggerEditorChange: "editor-change",
	TriggerSave:         "save",
	TriggerAction:       "action",
	TriggerCompilation:  "compilation",
	TriggerConfigChange: "config-change",
	TriggerBinding:      "binding",
}

func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return fmt.Sprintf("trigger(%d)", uint8(t))
}

// FetchesServerIssues reports whether results of this trigger are reconciled with the server.
func (t Trigger) FetchesServerIssues() bool {
	return t == TriggerEditorOpen || t == TriggerAction
}

// ParseTrigger accepts the names printed by String.
func ParseTrigger(s string) (Trigger, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range triggerNames {
		if name == s {
			return Trigger(i), nil
		}
	}
	return 0, fmt.Errorf("unknown trigger %q (expected one of %s)", s, strings.Join(triggerNames[:], ", "))
}
