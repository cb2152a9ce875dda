// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package internal_synthesizer_elevenlabs

import (
	"regexp"
	"strconv"
	"strings"

	ntw "moul.io/number-to-words"
)

// =============================================================================
// TTS Text Normalizer
// =============================================================================

// Normalizer prepares LLM output for synthesis: markdown is stripped,
// standalone integers are spelled out so the voice reads "forty two"
// instead of "four two", and whitespace is collapsed.
type Normalizer struct {
	headings   *regexp.Regexp
	emphasis   *regexp.Regexp
	inlineCode *regexp.Regexp
	codeBlocks *regexp.Regexp
	blockquote *regexp.Regexp
	links      *regexp.Regexp
	images     *regexp.Regexp
	rules      *regexp.Regexp
	leftovers  *regexp.Regexp
	integers   *regexp.Regexp
	whitespace *regexp.Regexp
}

// NewNormalizer compiles the normalization pipeline once per synthesizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		headings:   regexp.MustCompile(`(?m)^#{1,6}\s*`),
		emphasis:   regexp.MustCompile(`\*{1,2}([^*]+?)\*{1,2}|_{1,2}([^_]+?)_{1,2}`),
		inlineCode: regexp.MustCompile("`([^`]+)`"),
		codeBlocks: regexp.MustCompile("(?s)```[^`]*```"),
		blockquote: regexp.MustCompile(`(?m)^>\s?`),
		links:      regexp.MustCompile(`\[(.*?)\]\(.*?\)`),
		images:     regexp.MustCompile(`!\[(.*?)\]\(.*?\)`),
		rules:      regexp.MustCompile(`(?m)^(-{3,}|\*{3,}|_{3,})$`),
		leftovers:  regexp.MustCompile(`[*_#]+`),
		integers:   regexp.MustCompile(`\b\d{1,9}\b`),
		whitespace: regexp.MustCompile(`\s+`),
	}
}

// Normalize runs the full pipeline.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	text = n.removeMarkdown(text)
	text = n.spellOutNumbers(text)
	return n.normalizeWhitespace(text)
}

func (n *Normalizer) removeMarkdown(input string) string {
	output := n.codeBlocks.ReplaceAllString(input, "")
	output = n.headings.ReplaceAllString(output, "")
	output = n.images.ReplaceAllString(output, "$1")
	output = n.links.ReplaceAllString(output, "$1")
	output = n.emphasis.ReplaceAllString(output, "$1$2")
	output = n.inlineCode.ReplaceAllString(output, "$1")
	output = n.blockquote.ReplaceAllString(output, "")
	output = n.rules.ReplaceAllString(output, "")
	output = n.leftovers.ReplaceAllString(output, "")
	return output
}

// spellOutNumbers converts standalone integers to words. Numbers embedded
// in larger tokens (account IDs, dates with separators) keep their digits,
// the word boundary match only picks up whole tokens.
func (n *Normalizer) spellOutNumbers(input string) string {
	return n.integers.ReplaceAllStringFunc(input, func(match string) string {
		value, err := strconv.Atoi(match)
		if err != nil {
			return match
		}
		return ntw.IntegerToEnUs(value)
	})
}

func (n *Normalizer) normalizeWhitespace(text string) string {
	return strings.TrimSpace(n.whitespace.ReplaceAllString(text, " "))
}
