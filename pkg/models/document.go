package models

import (
	"encoding/json"
	"sort"
	"time"
)

// The workflow document keys connections by source node name:
//
//	{"connections": {"Fetch": {"connection_types": {"MAIN": {"connections": [{"node": "Notify", "type": "MAIN", "index": 0}]}}}}}
type documentEdge struct {
	Node               string         `json:"node"`
	Type               ConnectionType `json:"type"`
	Index              int            `json:"index"`
	OutputKey          string         `json:"output_key,omitempty"`
	ConversionFunction string         `json:"conversion_function,omitempty"`
}

type documentEdgeList struct {
	Connections []documentEdge `json:"connections"`
}

type documentNodeConnections struct {
	ConnectionTypes map[ConnectionType]documentEdgeList `json:"connection_types"`
}

type document struct {
	ID          string                             `json:"id"`
	Name        string                             `json:"name"`
	Description string                             `json:"description,omitempty"`
	Version     int                                `json:"version"`
	Nodes       []*Node                            `json:"nodes"`
	Connections map[string]documentNodeConnections `json:"connections"`
	Triggers    []string                           `json:"triggers,omitempty"`
	Settings    WorkflowSettings                   `json:"settings"`
	CreatedAt   time.Time                          `json:"created_at"`
	UpdatedAt   time.Time                          `json:"updated_at"`
}

// MarshalJSON encodes the workflow as a workflow document.
func (w Workflow) MarshalJSON() ([]byte, error) {
	doc := document{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Version:     w.Version,
		Nodes:       w.Nodes,
		Connections: make(map[string]documentNodeConnections),
		Triggers:    w.Triggers,
		Settings:    w.Settings,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}

	if doc.Nodes == nil {
		doc.Nodes = []*Node{}
	}

	for _, conn := range w.Connections {
		source := w.nodeLabel(conn.FromNode)

		entry, ok := doc.Connections[source]
		if !ok {
			entry = documentNodeConnections{ConnectionTypes: make(map[ConnectionType]documentEdgeList)}
		}

		list := entry.ConnectionTypes[conn.EdgeType()]
		list.Connections = append(list.Connections, documentEdge{
			Node:               w.nodeLabel(conn.ToNode),
			Type:               conn.EdgeType(),
			Index:              conn.Index,
			OutputKey:          conn.OutputKey,
			ConversionFunction: conn.ConversionFunction,
		})
		entry.ConnectionTypes[conn.EdgeType()] = list
		doc.Connections[source] = entry
	}

	return json.Marshal(doc)
}

// UnmarshalJSON decodes a workflow document. Node references are resolved by name
// first and by id second; unresolved references are kept verbatim so validation
// can report them.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var doc document

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return err
	}

	*w = Workflow{
		ID:          doc.ID,
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		Nodes:       doc.Nodes,
		Triggers:    doc.Triggers,
		Settings:    doc.Settings,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}

	sources := make([]string, 0, len(doc.Connections))
	for source := range doc.Connections {
		sources = append(sources, source)
	}

	sort.Strings(sources)

	for _, source := range sources {
		fromID := w.resolveNode(source)

		types := make([]string, 0, len(doc.Connections[source].ConnectionTypes))
		for connectionType := range doc.Connections[source].ConnectionTypes {
			types = append(types, string(connectionType))
		}

		sort.Strings(types)

		for _, connectionType := range types {
			for _, edge := range doc.Connections[source].ConnectionTypes[ConnectionType(connectionType)].Connections {
				edgeType := edge.Type
				if edgeType == "" {
					edgeType = ConnectionType(connectionType)
				}

				w.Connections = append(w.Connections, &Connection{
					FromNode:           fromID,
					ToNode:             w.resolveNode(edge.Node),
					Type:               edgeType,
					OutputKey:          edge.OutputKey,
					Index:              edge.Index,
					ConversionFunction: edge.ConversionFunction,
				})
			}
		}
	}

	return nil
}

func (w *Workflow) nodeLabel(id string) string {
	if node, ok := w.NodeByID(id); ok && node.Name != "" {
		return node.Name
	}

	return id
}

func (w *Workflow) resolveNode(ref string) string {
	if node, ok := w.NodeByName(ref); ok {
		return node.ID
	}

	return ref
}
