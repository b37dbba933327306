package robot

import "strings"

// Action is one entry of an adapter's predefined motion table.
type Action struct {
	Name        string
	Description string

	// Run performs the motion. A nil Run only reports success.
	Run func() TaskResult
}

// ActionTable maps predefined motion names to their implementation. Lookups
// are case-insensitive and listing preserves insertion order.
type ActionTable struct {
	order   []string
	actions map[string]Action
}

// NewActionTable builds a table from the given actions.
func NewActionTable(actions ...Action) *ActionTable {
	t := &ActionTable{actions: make(map[string]Action, len(actions))}
	for _, a := range actions {
		t.Add(a)
	}
	return t
}

// Add inserts or replaces an action.
func (t *ActionTable) Add(a Action) {
	key := strings.ToLower(a.Name)
	if _, exists := t.actions[key]; !exists {
		t.order = append(t.order, key)
	}
	a.Name = key
	t.actions[key] = a
}

// Has reports whether name is in the table.
func (t *ActionTable) Has(name string) bool {
	_, ok := t.actions[strings.ToLower(name)]
	return ok
}

// Names returns action names in insertion order.
func (t *ActionTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Play runs the named action.
func (t *ActionTable) Play(name string) TaskResult {
	a, ok := t.actions[strings.ToLower(name)]
	if !ok {
		return Fail("unknown action: %s", name)
	}
	if a.Run != nil {
		return a.Run()
	}
	return Ok("play action: %s", a.Description)
}
