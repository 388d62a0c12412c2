package service

import (
	"fmt"
	"strings"

	"github.com/atinyakov/GophRelay/internal/models"
)

// ChallengeSeparator separates the question from the answer in /setquestion.
const ChallengeSeparator = "|"

// ParseChallenge parses "question|answer". Only the first separator splits,
// so the answer may contain further separators. Both parts are trimmed and
// must be non-empty.
func ParseChallenge(raw string) (models.SecurityChallenge, error) {
	question, answer, ok := strings.Cut(raw, ChallengeSeparator)
	if !ok {
		return models.SecurityChallenge{}, fmt.Errorf("%w: expected <question>%s<answer>", ErrMalformedInput, ChallengeSeparator)
	}
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return models.SecurityChallenge{}, fmt.Errorf("%w: question is empty", ErrMalformedInput)
	}
	if answer == "" {
		return models.SecurityChallenge{}, fmt.Errorf("%w: answer is empty", ErrMalformedInput)
	}
	return models.SecurityChallenge{Question: question, Answer: answer}, nil
}
