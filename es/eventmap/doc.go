// Package eventmap generates serializer type registrations for versioned domain events.
//
// Event structs are discovered by parsing Go sources under an input directory.
// The directory a file lives in decides the event version (v1, v2, ...), and each
// struct is registered under "<Name>.v<Version>", so a v2 payload stored next to v1
// payloads still decodes into its own Go type.
//
// The generated file declares:
//
//	func EventTypeOf(e any) (string, error)
//	func RegisterEventTypes(r *serializer.TypeRegistry) error
//	func NewTypeRegistry() (*serializer.TypeRegistry, error)
//
// Use cmd/eventmap-gen to run the generator from go:generate.
package eventmap
