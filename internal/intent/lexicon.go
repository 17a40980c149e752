package intent

import (
	"strings"

	"github.com/aretw0/journey/pkg/domain"
)

const (
	phraseWeight  = 1.0
	keywordWeight = 0.8
)

type pattern struct {
	tokens []string
	weight float64
}

func exact(phrase string) pattern {
	return pattern{tokens: strings.Fields(phrase), weight: phraseWeight}
}

func keyword(phrase string) pattern {
	return pattern{tokens: strings.Fields(phrase), weight: keywordWeight}
}

var lexicon = map[domain.Command][]pattern{
	domain.CommandPause: {
		exact("pause"), exact("hold on"), exact("put on hold"), exact("wait a moment"),
		exact("take a break"), keyword("hold"), keyword("wait"), keyword("suspend"), keyword("freeze"),
	},
	domain.CommandResume: {
		exact("resume"), exact("continue"), exact("carry on"), exact("keep going"), exact("unpause"),
		exact("go on"), exact("pick up where"), keyword("proceed"),
	},
	domain.CommandStop: {
		exact("stop"), exact("cancel"), exact("abort"), exact("terminate"), exact("quit"),
		exact("end the workflow"), keyword("halt"), keyword("kill"),
	},
	domain.CommandStatus: {
		exact("status"), exact("progress"), exact("where are we"), exact("how far"),
		exact("what is happening"), exact("how is it going"), keyword("state"),
	},
	domain.CommandDebug: {
		exact("debug"), exact("diagnose"), exact("what went wrong"), exact("error details"),
		keyword("logs"), keyword("trace"),
	},
	domain.CommandSkip: {
		exact("skip"), exact("move on"), exact("jump over"), exact("ignore this step"), keyword("bypass"),
	},
	domain.CommandRetry: {
		exact("retry"), exact("try again"), exact("redo"), exact("rerun"), exact("re run"),
		exact("one more time"), keyword("again"),
	},
	domain.CommandExplain: {
		exact("explain"), exact("what does this do"), exact("what is this step"), exact("tell me more"),
		keyword("why"),
	},
	domain.CommandExport: {
		exact("export"), exact("save as"), exact("send me a copy"), keyword("download"),
	},
	domain.CommandHelp: {
		exact("help"), exact("what can i do"), exact("how does this work"), keyword("commands"),
		keyword("options"),
	},
}

// filler words carry no intent and do not dilute coverage.
var filler = toSet(
	"please", "pls", "could", "would", "can", "will", "you", "kindly", "just", "the", "this", "that",
	"it", "now", "a", "an", "for", "me", "hey", "hi", "hello", "let", "us", "we", "i", "want", "to",
	"like", "thanks", "thank", "right", "quickly", "then", "and", "do", "go", "ahead", "is",
)

var negators = toSet("not", "never", "without")

var affirmatives = toSet(
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "alright", "fine", "please", "do", "it",
	"that", "go", "ahead", "again", "agreed", "absolutely", "definitely",
)

var contractions = strings.NewReplacer(
	"’", "'",
	"don't", "do not",
	"dont", "do not",
	"can't", "can not",
	"cannot", "can not",
	"won't", "will not",
	"what's", "what is",
	"whats", "what is",
	"where's", "where is",
	"let's", "let us",
	"it's", "it is",
)

var exportFormats = toSet("json", "yaml", "csv", "markdown")

func toSet(words ...string) map[string]bool {
	s := make(map[string]bool, len(words))
	for _, w := range words {
		s[w] = true
	}
	return s
}
