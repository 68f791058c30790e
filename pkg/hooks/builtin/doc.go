// Package builtin provides the "default" plugin collection.
//
//   - default.regexMatch     text matches (or, with not, does not match) a pattern
//   - default.contains       text contains any, all or none of a word list
//   - default.wordCount      word count within [minWords, maxWords]
//   - default.characterCount character count within [minCharacters, maxCharacters]
//   - default.modelWhitelist requested model matches one of a list of globs
//   - default.validJSON      text is JSON, optionally after repair
//   - default.webhook        verdict from an external guardrail service
//
// Each check reports its findings in Result.Data so a rejection explains
// itself.
package builtin
