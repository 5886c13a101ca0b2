package prompt

import (
	"strings"

	"github.com/codefionn/personachat/internal/chat"
	"github.com/codefionn/personachat/internal/tokenizer"
)

// maxAnchorDepth bounds the in-chat anchor depth scan for anchors registered
// deeper than the accepted history.
const maxAnchorDepth = 100

// FitInput is the budgeting context shared by Fit and Assemble.
type FitInput struct {
	Fragments *Fragments
	WorldInfo WorldInfoResult
	Anchors   *AnchorRegistry
	Persona   chat.Persona

	Bias        string
	QuietPrompt string

	Ceiling     int
	Padding     int
	PinExamples bool
}

// FitResult reports what survived budgeting.
type FitResult struct {
	// History is the accepted suffix of the history lines, oldest-first.
	History []string
	// ExampleCount is how many example blocks fit. Ignored when pinned.
	ExampleCount int
	Pinned       bool
}

// Fitter trims history and examples to a token ceiling.
type Fitter struct {
	est tokenizer.Estimator
}

// NewFitter creates a fitter around the estimator.
func NewFitter(est tokenizer.Estimator) *Fitter {
	return &Fitter{est: est}
}

func (f *Fitter) canFit(in *FitInput, examples, history string) bool {
	encode := strings.Join([]string{
		in.WorldInfo.Combined,
		in.Fragments.StoryString,
		examples,
		history,
		in.Fragments.AnchorTop,
		in.Fragments.AnchorBottom,
		in.Fragments.Personality,
		in.Bias,
		in.Anchors.All(in.Persona),
		in.QuietPrompt,
	}, "")
	return f.est.CountTokens(encode, in.Padding) < in.Ceiling
}

// Fit greedily accepts history lines newest-first until the budget overflows,
// then accepts example blocks into the remaining space. Pinned examples are
// forced in before history is considered.
func (f *Fitter) Fit(in *FitInput) *FitResult {
	res := &FitResult{Pinned: in.PinExamples}

	lines := in.Fragments.HistoryLines
	if len(lines) == 0 {
		// Keeps downstream indexing stable when regenerating the first
		// message of a chat.
		lines = []string{""}
	}

	examplesString := ""
	if in.PinExamples {
		examplesString = strings.Join(in.Fragments.ExampleBlocks, "")
		res.ExampleCount = len(in.Fragments.ExampleBlocks)
	}

	chatString := ""
	accepted := 0
	for i := len(lines) - 1; i >= 0; i-- {
		chatString = lines[i] + chatString
		if !f.canFit(in, examplesString, chatString) {
			break
		}
		accepted++
	}
	res.History = append(res.History, lines[len(lines)-accepted:]...)

	if !in.PinExamples {
		historyString := strings.Join(res.History, "")
		examplesString = ""
		for _, example := range in.Fragments.ExampleBlocks {
			examplesString += example
			if !f.canFit(in, examplesString, historyString) {
				break
			}
			res.ExampleCount++
		}
	}

	return res
}
