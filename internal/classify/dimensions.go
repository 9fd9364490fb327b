package classify

import "fmt"

// Dimension is one zero-shot scoring axis. Labels name the output columns;
// Hypotheses are the entailment sentences sent to the model, index-aligned
// with Labels.
type Dimension struct {
	Name       string
	Labels     []string
	Hypotheses []string
}

func newDimension(name string, labels, words []string, template string) Dimension {
	hyps := make([]string, len(words))
	for i, w := range words {
		hyps[i] = fmt.Sprintf(template, w)
	}
	return Dimension{Name: name, Labels: labels, Hypotheses: hyps}
}

var (
	Sentiment = newDimension("sentiment",
		[]string{"Positive", "Neutral", "Negative"},
		[]string{"Positivity", "Neutrality", "Negativity"},
		"This message expresses %s")

	Stance = newDimension("stance",
		[]string{"Supportive", "Neutral", "Oppositional"},
		[]string{"Supportive", "Neutral", "Oppositional"},
		"This message expresses a %s stance")

	Ideology = newDimension("ideology",
		[]string{"Far-left", "Center-left", "Centrist", "Center-right", "Far-right"},
		[]string{"Far-left", "Center-left", "Centrist", "Center-right", "Far-right"},
		"This message expresses politically %s values within UK politics")
)
