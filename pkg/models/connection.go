package models

import "slices"

type ConnectionType string

const (
	ConnectionTypeMain            ConnectionType = "MAIN"
	ConnectionTypeAITool          ConnectionType = "AI_TOOL"
	ConnectionTypeAIMemory        ConnectionType = "AI_MEMORY"
	ConnectionTypeAIDocument      ConnectionType = "AI_DOCUMENT"
	ConnectionTypeAIEmbedding     ConnectionType = "AI_EMBEDDING"
	ConnectionTypeAIAgent         ConnectionType = "AI_AGENT"
	ConnectionTypeAIChain         ConnectionType = "AI_CHAIN"
	ConnectionTypeAIRetriever     ConnectionType = "AI_RETRIEVER"
	ConnectionTypeAIReranker      ConnectionType = "AI_RERANKER"
	ConnectionTypeAITextSplitter  ConnectionType = "AI_TEXT_SPLITTER"
	ConnectionTypeAIOutputParser  ConnectionType = "AI_OUTPUT_PARSER"
	ConnectionTypeAIVectorStore   ConnectionType = "AI_VECTOR_STORE"
	ConnectionTypeAILanguageModel ConnectionType = "AI_LANGUAGE_MODEL"
)

// DefaultOutputKey is the output key used by edges that do not name one.
const DefaultOutputKey = "result"

// AIConnectionTypes are the capability-attachment edge types. They never carry
// pipeline data and never impose ordering.
var AIConnectionTypes = []ConnectionType{
	ConnectionTypeAITool,
	ConnectionTypeAIMemory,
	ConnectionTypeAIDocument,
	ConnectionTypeAIEmbedding,
	ConnectionTypeAIAgent,
	ConnectionTypeAIChain,
	ConnectionTypeAIRetriever,
	ConnectionTypeAIReranker,
	ConnectionTypeAITextSplitter,
	ConnectionTypeAIOutputParser,
	ConnectionTypeAIVectorStore,
	ConnectionTypeAILanguageModel,
}

// Valid reports whether t is MAIN or one of the AI_* types.
func (t ConnectionType) Valid() bool {
	return t == ConnectionTypeMain || slices.Contains(AIConnectionTypes, t)
}

// Connection is a directed edge between two nodes.
type Connection struct {
	FromNode           string         `json:"from_node" validate:"required"`
	ToNode             string         `json:"to_node" validate:"required"`
	Type               ConnectionType `json:"connection_type"`
	OutputKey          string         `json:"output_key,omitempty"`
	Index              int            `json:"index"`
	ConversionFunction string         `json:"conversion_function,omitempty"`
}

// Key returns the output key of the edge, falling back to DefaultOutputKey.
func (c *Connection) Key() string {
	if c.OutputKey == "" {
		return DefaultOutputKey
	}

	return c.OutputKey
}

// EdgeType returns the connection type, MAIN when unset.
func (c *Connection) EdgeType() ConnectionType {
	if c.Type == "" {
		return ConnectionTypeMain
	}

	return c.Type
}
