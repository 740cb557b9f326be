package models

// Entity is the closed set of lookup results: *Profile, *Event or NotFound.
// The unexported method keeps the set closed to this package.
type Entity interface {
	entity()
}

// NotFound marks a reference that resolved to nothing.
type NotFound struct{}

func (*Profile) entity() {}
func (*Event) entity()   {}
func (NotFound) entity() {}
