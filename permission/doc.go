// Package permission models authorization grants and requirements.
//
// A [Set] is a deduplicated flat collection of permission names. A
// [Requirement] is an expression tree over permission names combining
// single permissions with All, Any, and Not. Evaluation is recursive
// with short-circuiting, and an empty requirement always passes.
package permission
