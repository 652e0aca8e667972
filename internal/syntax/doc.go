// Package syntax converts between agent text and IR.
//
// An agent invokes a module by writing a command span:
//
//	[[command]]
//	module: IO
//	command: AccessModule
//	content: hello
//	[[/command]]
//
// The body is a YAML block mapping. Leaf kinds come from YAML core tags, so
// 3 is an int, 3.0 a float, "3" a string. Null is rejected.
//
// Parse is lazy and never aborts: a malformed span becomes a ParseFailure and
// scanning continues past it. Render is its inverse for well-formed IR:
// parsing a rendered value yields an equal value.
package syntax
