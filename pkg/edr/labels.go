package edr

// Label is one class id's MITRE ATT&CK mapping.
type Label struct {
	ID        int
	Category  string // e.g. "DoS"
	Technique string // e.g. "Resource Exhaustion"; empty for normal traffic
	Tag       string // "Category → Technique"
	Severity  string // info, warning, medium, high, critical
}

// Labels returns the class mapping in id order. This is read-only;
// use WithLabelsFile to replace it.
func (d *Detector) Labels() []Label {
	entries := d.taxonomy.Entries()
	labels := make([]Label, len(entries))
	for i, e := range entries {
		labels[i] = Label{
			ID:        e.ID,
			Category:  e.Category,
			Technique: e.Technique,
			Tag:       e.Tag(),
			Severity:  string(e.Severity),
		}
	}
	return labels
}

// Tag returns the MITRE tag for a class id. Unknown ids map to the
// unclassified tag.
func (d *Detector) Tag(class int) string {
	return d.taxonomy.Tag(class)
}
