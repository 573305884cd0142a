package participants

// NewTable builds a snapshot from records indexed by uid order.
func NewTable(records []Record, block int) *Table {
	t := &Table{
		records:  make([]Record, len(records)),
		byHotkey: make(map[string]int, len(records)),
		block:    block,
	}
	copy(t.records, records)
	for i, r := range t.records {
		t.byHotkey[r.Hotkey] = i
	}
	return t
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

func (t *Table) Block() int {
	if t == nil {
		return 0
	}
	return t.block
}

// Records returns a copy of every record.
func (t *Table) Records() []Record {
	if t == nil {
		return nil
	}
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Lookup resolves a producer hotkey to its record.
func (t *Table) Lookup(hotkey string) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	i, ok := t.byHotkey[hotkey]
	if !ok {
		return Record{}, false
	}
	return t.records[i], true
}

// UIDs returns the uid of every participant.
func (t *Table) UIDs() []int {
	if t == nil {
		return nil
	}
	uids := make([]int, len(t.records))
	for i, r := range t.records {
		uids[i] = r.UID
	}
	return uids
}

// Endpoints returns every participant's endpoint, resolved or not.
func (t *Table) Endpoints() []Endpoint {
	if t == nil {
		return nil
	}
	out := make([]Endpoint, len(t.records))
	for i, r := range t.records {
		out[i] = r.Endpoint
	}
	return out
}

// Resolved counts participants with a usable endpoint.
func (t *Table) Resolved() int {
	n := 0
	for _, e := range t.Endpoints() {
		if _, ok := e.Location(); ok {
			n++
		}
	}
	return n
}
