package task

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Task label names. The broker addresses mutation handlers by numeric label;
// the names exist only client side so configs and logs stay readable.
const (
	LabelSendMessage   = "send_message"
	LabelSendReaction  = "send_reaction"
	LabelUnsendMessage = "unsend_message"
	LabelMarkDelivered = "mark_delivered"
	LabelMarkRead      = "mark_read"
	LabelSetNickname   = "set_nickname"
	LabelSetThreadName = "set_thread_name"
	LabelSetEmoji      = "set_quick_reaction"
	LabelSetTheme      = "set_theme"
	LabelApplyTheme    = "apply_theme"
	LabelPinMessage    = "pin_message"
	LabelUnpinMessage  = "unpin_message"
	LabelSetGroupImage = "set_group_image"
	LabelSetAdmin      = "set_admin"
	LabelAddMembers    = "add_members"
	LabelRemoveMember  = "remove_member"
)

// defaultLabels is the compiled-in label assignment, matching the service
// build the client was last verified against. The numbers shift across
// server deployments, which is why LoadLabelTable can overlay them from a
// config file without a rebuild.
var defaultLabels = map[string]int64{
	LabelSendMessage:   46,
	LabelSendReaction:  431,
	LabelUnsendMessage: 33,
	LabelMarkDelivered: 21,
	LabelMarkRead:      31,
	LabelSetNickname:   44,
	LabelSetThreadName: 32,
	LabelSetEmoji:      127,
	LabelSetTheme:      43,
	LabelApplyTheme:    1027,
	LabelPinMessage:    430,
	LabelUnpinMessage:  430,
	LabelSetGroupImage: 37,
	LabelSetAdmin:      25,
	LabelAddMembers:    23,
	LabelRemoveMember:  140,
}

// LabelTable maps task label names to the numeric labels published on the
// wire.
type LabelTable struct {
	labels map[string]int64
}

// DefaultLabelTable returns the compiled-in assignment.
func DefaultLabelTable() *LabelTable {
	labels := make(map[string]int64, len(defaultLabels))
	for name, label := range defaultLabels {
		labels[name] = label
	}
	return &LabelTable{labels: labels}
}

// LoadLabelTable reads a YAML name→number mapping and overlays it on the
// defaults, so a config file only needs to list the labels that moved.
func LoadLabelTable(path string) (*LabelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label table: %w", err)
	}
	var overrides map[string]int64
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse label table %s: %w", path, err)
	}

	table := DefaultLabelTable()
	for name, label := range overrides {
		if _, known := defaultLabels[name]; !known {
			return nil, fmt.Errorf("label table %s names unknown task %q", path, name)
		}
		table.labels[name] = label
	}
	return table, nil
}

// Lookup resolves a label name to its wire number.
func (t *LabelTable) Lookup(name string) (int64, error) {
	label, ok := t.labels[name]
	if !ok {
		return 0, fmt.Errorf("no label assignment for task %q", name)
	}
	return label, nil
}
