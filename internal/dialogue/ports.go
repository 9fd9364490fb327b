package dialogue

import "context"

// Passage is one knowledge-base hit. Source is the provenance marker shown
// to the model next to the text.
type Passage struct {
	Text   string
	Source string
	Score  float32
}

type Retriever interface {
	Search(ctx context.Context, query, namespace string, k int) ([]Passage, error)
}

// Input is one labelled piece of a prompt, rendered as "Label: Value". An
// empty label sends the value as is.
type Input struct {
	Label string
	Value string
}

type GenerateRequest struct {
	System        string
	Inputs        []Input
	EnableWebTool bool
}

// Generation is a model reply. UsedWebTool is set only when the model
// actually invoked the web tool while producing Text.
type Generation struct {
	Text        string
	UsedWebTool bool
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generation, error)
}
