package models

// Preset is a curated starter workflow offered to tenants at creation time.
// Presets are plain workflow-shaped data and must compile without errors.
type Preset struct {
	ID          string           `json:"id"          yaml:"id"`
	Name        string           `json:"name"        yaml:"name"`
	Description string           `json:"description" yaml:"description"`
	Category    string           `json:"category"    yaml:"category"`
	Version     int              `json:"version"     yaml:"version"`
	Triggers    []map[string]any `json:"triggers"    yaml:"triggers"`
	StartNodeID string           `json:"startNodeId" yaml:"startNodeId"`
	Nodes       map[string]any   `json:"nodes"       yaml:"nodes"`
	Edges       []map[string]any `json:"edges"       yaml:"edges"`
}

// Document returns the raw document used to seed a new workflow from the preset.
func (p *Preset) Document() (map[string]any, error) {
	doc, err := ToDocument(p)
	if err != nil {
		return nil, err
	}

	delete(doc, "id")
	delete(doc, "category")
	delete(doc, "version")
	doc["presetId"] = p.ID

	return doc, nil
}
