// Package output provides YAML/JSON output types for sentvec commands.
//
// # Output Types
//
//   - EmbeddingOutput: vectors for a set of input texts (sentvec embed, sentvec batch)
//   - ModelInfoOutput: model identity and readiness (sentvec info)
//   - SaveOutput: where a model was persisted (sentvec save)
//
// # Format Types
//
//   - YAML (default): human-readable
//   - JSON: machine-readable, same structure as YAML
//
// Vector values are rounded to a fixed number of decimal places before
// encoding so output stays diffable across runs.
package output
